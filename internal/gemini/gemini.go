// Package gemini provides the client for the generative-AI API that ranks
// yield pools. The AI call is the highest-latency, highest-failure step in
// the refresh pipeline, so it carries its own retry policy and failure
// taxonomy; a partial or malformed response never reaches the cache.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/hornet-cache/internal/config"
	"github.com/yourorg/hornet-cache/internal/model"
	"github.com/yourorg/hornet-cache/internal/retry"
	"golang.org/x/time/rate"
)

// Failure taxonomy for the AI layer. All of these abort the refresh cycle
// without touching the cache store.
var (
	// ErrSafetyBlocked reports a non-STOP finish reason
	ErrSafetyBlocked = errors.New("gemini response blocked")

	// ErrEmptyResponse reports a response with no candidate content
	ErrEmptyResponse = errors.New("no content in gemini response")

	// ErrMalformedAIResponse reports unparseable or structurally invalid output
	ErrMalformedAIResponse = errors.New("malformed gemini response")

	// ErrRequestTimeout reports that the per-call deadline elapsed
	ErrRequestTimeout = errors.New("gemini request timed out")
)

// Request/response wire types for the generateContent endpoint.

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// Fixed sampling parameters for pool analysis.
var analysisConfig = generationConfig{
	Temperature:     0.7,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 8192,
}

// Client talks to the Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	retries    int
	baseDelay  time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Gemini client configured from cfg.
func NewClient(cfg config.Config) *Client {
	return &Client{
		apiKey:     cfg.GeminiAPIKey,
		model:      cfg.GeminiModel,
		baseURL:    cfg.GeminiBaseURL,
		timeout:    cfg.GeminiTimeout,
		retries:    cfg.GeminiRetries,
		baseDelay:  2 * time.Second,
		httpClient: &http.Client{},
		// Client-side quota throttle: one request per second, small burst.
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}
}

// SendPrompt builds a two-turn conversation (system instruction acknowledged
// by a canned model turn, then the user prompt) and returns the raw text of
// the first candidate.
func (c *Client) SendPrompt(ctx context.Context, userPrompt, systemInstruction string) (string, error) {
	return retry.Do(ctx, "Gemini sendPrompt", c.retries, c.baseDelay, func(ctx context.Context) (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var contents []content
		if systemInstruction != "" {
			contents = append(contents,
				content{Role: "user", Parts: []part{{Text: systemInstruction}}},
				content{Role: "model", Parts: []part{{Text: "Understood, I will follow these instructions."}}},
			)
		}
		contents = append(contents, content{Role: "user", Parts: []part{{Text: userPrompt}}})

		body, err := json.Marshal(generateRequest{
			Contents:         contents,
			GenerationConfig: analysisConfig,
		})
		if err != nil {
			return "", fmt.Errorf("encoding request: %w", err)
		}

		url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		logrus.WithField("model", c.model).Info("Sending request to Gemini")
		start := time.Now()

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("%w after %s", ErrRequestTimeout, c.timeout)
			}
			return "", fmt.Errorf("gemini request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("gemini API status %d", resp.StatusCode)
		}

		var parsed generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return "", fmt.Errorf("decoding gemini response: %w", err)
		}

		if len(parsed.Candidates) == 0 {
			return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
		}

		cand := parsed.Candidates[0]
		if cand.FinishReason != "" && cand.FinishReason != "STOP" {
			return "", fmt.Errorf("%w: %s", ErrSafetyBlocked, cand.FinishReason)
		}
		if len(cand.Content.Parts) == 0 || cand.Content.Parts[0].Text == "" {
			return "", ErrEmptyResponse
		}

		logrus.WithField("duration", time.Since(start).String()).Info("Gemini response received")
		return cand.Content.Parts[0].Text, nil
	})
}

// poolProjection is the bounded field set sent to the model.
type poolProjection struct {
	ID         string  `json:"id"`
	Project    string  `json:"project"`
	Symbol     string  `json:"symbol"`
	Chain      string  `json:"chain"`
	APY        float64 `json:"apy"`
	APYBase    float64 `json:"apyBase"`
	APYReward  float64 `json:"apyReward"`
	TVLUsd     float64 `json:"tvlUsd"`
	Stablecoin bool    `json:"stablecoin"`
	ILRisk     string  `json:"ilRisk"`
	Exposure   string  `json:"exposure"`
}

// rawRecommendation mirrors the JSON schema the model is instructed to emit.
type rawRecommendation struct {
	PoolID    string   `json:"poolId"`
	Score     int      `json:"score"`
	Reasoning string   `json:"reasoning"`
	Pros      []string `json:"pros"`
	Cons      []string `json:"cons"`
	RiskLevel string   `json:"riskLevel"`
}

type rawAnalysis struct {
	Recommendations []rawRecommendation `json:"recommendations"`
	Summary         string              `json:"summary"`
	Warnings        []string            `json:"warnings"`
}

const systemInstruction = `You are a DeFi expert. Analyze the pools and recommend the best one for each risk level.

Respond ONLY with valid JSON (no markdown):
{
  "recommendations": [
    {
      "poolId": "exact-id",
      "score": 85,
      "reasoning": "1 short sentence",
      "pros": ["2-3 pros max"],
      "cons": ["1-2 cons max"],
      "riskLevel": "low|medium|high"
    }
  ],
  "summary": "1 sentence summary",
  "warnings": ["warnings if needed"]
}`

// AnalyzePools sends the pool set to the model with a fixed risk rubric and
// builds the risk-bucketed strategy artifact from the parsed response.
func (c *Client) AnalyzePools(ctx context.Context, pools []model.Pool) (*model.Analysis, error) {
	logrus.WithField("pools", len(pools)).Info("Analyzing pools with Gemini")

	projections := make([]poolProjection, len(pools))
	for i, p := range pools {
		projections[i] = poolProjection{
			ID:         p.ID,
			Project:    p.Project,
			Symbol:     p.Symbol,
			Chain:      p.Chain,
			APY:        p.APY,
			APYBase:    p.APYBase,
			APYReward:  p.APYReward,
			TVLUsd:     p.TVLUsd,
			Stablecoin: p.Stablecoin,
			ILRisk:     p.ILRisk,
			Exposure:   p.Exposure,
		}
	}

	poolsJSON, err := json.MarshalIndent(projections, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding pool projection: %w", err)
	}

	userPrompt := fmt.Sprintf(`Analyze these USDC pools and recommend the best for each risk level.

CRITERIA:
- Low Risk: TVL > $1M, APY 3-10%%, established protocols (Aave, Morpho, Merkl)
- Medium Risk: TVL > $500K, APY 8-20%%, balanced yield/safety
- High Risk: TVL > $100K, APY 15-50%%, high potential

CONCISE RESPONSE:
- Score (0-100)
- 2-3 pros maximum
- 1-2 cons maximum
- 1 short sentence

Pools (%d):
%s`, len(pools), poolsJSON)

	response, err := c.SendPrompt(ctx, userPrompt, systemInstruction)
	if err != nil {
		return nil, err
	}

	parsed, err := parseAnalysis(response)
	if err != nil {
		return nil, err
	}

	recommendations := enrich(parsed.Recommendations, pools)

	analysis := &model.Analysis{
		Success:            true,
		Strategies:         bucket(recommendations),
		Summary:            parsed.Summary,
		Warnings:           parsed.Warnings,
		TotalPoolsAnalyzed: len(pools),
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}
	if analysis.Summary == "" {
		analysis.Summary = "Analysis completed"
	}
	if analysis.Warnings == nil {
		analysis.Warnings = []string{}
	}

	logrus.Info("Gemini analysis completed successfully")
	return analysis, nil
}

// parseAnalysis strips markdown fences defensively and validates the schema.
func parseAnalysis(response string) (*rawAnalysis, error) {
	jsonContent := strings.TrimSpace(response)
	jsonContent = strings.TrimPrefix(jsonContent, "```json")
	jsonContent = strings.TrimPrefix(jsonContent, "```")
	jsonContent = strings.TrimSuffix(jsonContent, "```")
	jsonContent = strings.TrimSpace(jsonContent)

	var parsed rawAnalysis
	if err := json.Unmarshal([]byte(jsonContent), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAIResponse, err)
	}
	if parsed.Recommendations == nil {
		return nil, fmt.Errorf("%w: missing recommendations array", ErrMalformedAIResponse)
	}
	return &parsed, nil
}

// enrich resolves each recommendation's pool id against the original set.
// Unresolvable ids are dropped with a warning, never an error, so the final
// count may be smaller than what the model returned.
func enrich(raws []rawRecommendation, pools []model.Pool) []model.Recommendation {
	byID := make(map[string]model.Pool, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
	}

	out := make([]model.Recommendation, 0, len(raws))
	for _, raw := range raws {
		pool, ok := byID[raw.PoolID]
		if !ok {
			logrus.WithField("poolId", raw.PoolID).Warn("Recommended pool not found in original data, dropping")
			continue
		}

		rec := model.Recommendation{
			Pool:      pool,
			Score:     raw.Score,
			Reasoning: raw.Reasoning,
			Pros:      raw.Pros,
			Cons:      raw.Cons,
			RiskLevel: raw.RiskLevel,
		}
		if rec.Reasoning == "" {
			rec.Reasoning = "No explanation provided"
		}
		if rec.Pros == nil {
			rec.Pros = []string{}
		}
		if rec.Cons == nil {
			rec.Cons = []string{}
		}
		if rec.RiskLevel == "" {
			rec.RiskLevel = model.RiskMedium
		}
		out = append(out, rec)
	}
	return out
}

// bucket partitions recommendations by risk level, keeping only the first
// entry per bucket (response order, not re-sorted). Best is the first raw
// recommendation overall.
func bucket(recs []model.Recommendation) model.Strategies {
	strategies := model.Strategies{
		Low:    []model.Recommendation{},
		Medium: []model.Recommendation{},
		High:   []model.Recommendation{},
	}

	for _, rec := range recs {
		switch rec.RiskLevel {
		case model.RiskLow:
			if len(strategies.Low) == 0 {
				strategies.Low = append(strategies.Low, rec)
			}
		case model.RiskMedium:
			if len(strategies.Medium) == 0 {
				strategies.Medium = append(strategies.Medium, rec)
			}
		case model.RiskHigh:
			if len(strategies.High) == 0 {
				strategies.High = append(strategies.High, rec)
			}
		}
	}

	if len(recs) > 0 {
		best := recs[0]
		strategies.Best = &best
	}
	return strategies
}
