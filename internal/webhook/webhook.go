// Package webhook delivers refresh-outcome notifications to an external URL.
package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls which refresh outcomes produce a notification.
type Config struct {
	URL       string
	APIKey    string
	OnError   bool
	OnSuccess bool
}

// Event is the JSON payload POSTed to the webhook URL.
type Event struct {
	Event      string `json:"event"`
	Timestamp  string `json:"timestamp"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration,omitempty"`
}

// Notifier posts events to the configured URL. Delivery is fire-and-forget:
// a failing webhook must never fail a refresh.
type Notifier struct {
	config     Config
	httpClient *http.Client
}

// New creates a Notifier. A Notifier with an empty URL is valid and silently
// drops every event.
func New(config Config) *Notifier {
	return &Notifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// NotifySuccess reports a completed refresh, if the success trigger is on.
func (n *Notifier) NotifySuccess(durationMs int64, message string) {
	if n.config.URL == "" || !n.config.OnSuccess {
		return
	}
	go n.send(Event{
		Event:      "refresh.success",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Message:    message,
		DurationMs: durationMs,
	})
}

// NotifyError reports a failed refresh, if the error trigger is on.
func (n *Notifier) NotifyError(errMsg string) {
	if n.config.URL == "" || !n.config.OnError {
		return
	}
	go n.send(Event{
		Event:     "refresh.error",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     errMsg,
	})
}

func (n *Notifier) send(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		logrus.WithField("error", err.Error()).Warn("Failed to encode webhook event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		logrus.WithField("error", err.Error()).Warn("Failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.APIKey != "" {
		req.Header.Set("X-API-Key", n.config.APIKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		logrus.WithField("error", err.Error()).Warn("Webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logrus.WithField("status", resp.StatusCode).Warn("Webhook delivery rejected")
		return
	}
	logrus.WithField("event", event.Event).Debug("Webhook delivered")
}
