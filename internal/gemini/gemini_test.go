package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/hornet-cache/internal/config"
	"github.com/yourorg/hornet-cache/internal/model"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.Config{
		GeminiAPIKey:  "test-key",
		GeminiModel:   "gemini-2.5-flash",
		GeminiBaseURL: srv.URL,
		GeminiTimeout: 5 * time.Second,
		GeminiRetries: 0,
	})
	c.httpClient = srv.Client()
	c.baseDelay = time.Millisecond
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func candidateBody(text, finishReason string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content":      map[string]interface{}{"parts": []map[string]string{{"text": text}}, "role": "model"},
				"finishReason": finishReason,
			},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func testPools() []model.Pool {
	return []model.Pool{
		{ID: "pool-a", Project: "aave-v3", Symbol: "USDC", Chain: "Base", APY: 4.5, TVLUsd: 5_000_000},
		{ID: "pool-b", Project: "morpho", Symbol: "USDC", Chain: "Base", APY: 12.0, TVLUsd: 800_000},
	}
}

const analysisJSON = `{
  "recommendations": [
    {"poolId": "pool-b", "score": 80, "reasoning": "Strong yield", "pros": ["high APY"], "cons": ["smaller TVL"], "riskLevel": "medium"},
    {"poolId": "pool-a", "score": 90, "reasoning": "Deep liquidity", "pros": ["established"], "cons": ["modest APY"], "riskLevel": "low"}
  ],
  "summary": "Solid options on Base",
  "warnings": []
}`

func TestSendPrompt_BuildsTwoTurnConversation(t *testing.T) {
	var captured generateRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"), "API key travels in the query string")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, candidateBody("hello", "STOP"))
	})

	text, err := client.SendPrompt(context.Background(), "user prompt", "system text")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	require.Len(t, captured.Contents, 3, "System instruction, canned model turn, then user prompt")
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Equal(t, "user prompt", captured.Contents[2].Parts[0].Text)

	assert.Equal(t, 0.7, captured.GenerationConfig.Temperature)
	assert.Equal(t, 40, captured.GenerationConfig.TopK)
	assert.Equal(t, 0.95, captured.GenerationConfig.TopP)
	assert.Equal(t, 8192, captured.GenerationConfig.MaxOutputTokens)
}

func TestSendPrompt_SafetyBlock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody("partial", "SAFETY"))
	})

	_, err := client.SendPrompt(context.Background(), "prompt", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSafetyBlocked)
}

func TestSendPrompt_EmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	})

	_, err := client.SendPrompt(context.Background(), "prompt", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnalyzePools_ParsesAndBuckets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody(analysisJSON, "STOP"))
	})

	analysis, err := client.AnalyzePools(context.Background(), testPools())
	require.NoError(t, err)

	assert.True(t, analysis.Success)
	assert.Equal(t, "Solid options on Base", analysis.Summary)
	assert.Equal(t, 2, analysis.TotalPoolsAnalyzed)

	require.Len(t, analysis.Strategies.Medium, 1)
	assert.Equal(t, "pool-b", analysis.Strategies.Medium[0].Pool.ID)
	require.Len(t, analysis.Strategies.Low, 1)
	assert.Equal(t, "pool-a", analysis.Strategies.Low[0].Pool.ID)
	assert.Empty(t, analysis.Strategies.High)

	require.NotNil(t, analysis.Strategies.Best, "Best pick is the first raw recommendation")
	assert.Equal(t, "pool-b", analysis.Strategies.Best.Pool.ID)
}

func TestAnalyzePools_StripsMarkdownFences(t *testing.T) {
	fenced := "```json\n" + analysisJSON + "\n```"
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody(fenced, "STOP"))
	})

	analysis, err := client.AnalyzePools(context.Background(), testPools())
	require.NoError(t, err)
	assert.NotNil(t, analysis.Strategies.Best)
}

func TestAnalyzePools_UnknownPoolIDIsDropped(t *testing.T) {
	body := `{
	  "recommendations": [
	    {"poolId": "ghost", "score": 99, "riskLevel": "low"},
	    {"poolId": "pool-a", "score": 85, "riskLevel": "low"}
	  ],
	  "summary": "ok"
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody(body, "STOP"))
	})

	analysis, err := client.AnalyzePools(context.Background(), testPools())
	require.NoError(t, err, "Unknown pool ids are dropped, never thrown")

	require.Len(t, analysis.Strategies.Low, 1)
	assert.Equal(t, "pool-a", analysis.Strategies.Low[0].Pool.ID)
	require.NotNil(t, analysis.Strategies.Best)
	assert.Equal(t, "pool-a", analysis.Strategies.Best.Pool.ID, "Best skips dropped recommendations")
}

func TestAnalyzePools_MalformedJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody("this is not JSON at all", "STOP"))
	})

	_, err := client.AnalyzePools(context.Background(), testPools())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedAIResponse)
}

func TestAnalyzePools_MissingRecommendationsArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody(`{"summary":"no recs here"}`, "STOP"))
	})

	_, err := client.AnalyzePools(context.Background(), testPools())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedAIResponse)
}

func TestAnalyzePools_BucketCapIsOne(t *testing.T) {
	body := `{
	  "recommendations": [
	    {"poolId": "pool-a", "score": 90, "riskLevel": "low"},
	    {"poolId": "pool-b", "score": 70, "riskLevel": "low"}
	  ],
	  "summary": "ok"
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody(body, "STOP"))
	})

	analysis, err := client.AnalyzePools(context.Background(), testPools())
	require.NoError(t, err)
	require.Len(t, analysis.Strategies.Low, 1, "Each bucket caps at the single top pick")
	assert.Equal(t, "pool-a", analysis.Strategies.Low[0].Pool.ID, "Response order decides, not score")
}
