package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/driver"
)

// RemoteRequest is the raw measurement sent to the processing server.
type RemoteRequest struct {
	NodeID     string    `json:"esp_id"`
	GPIO       int       `json:"gpio"`
	SensorType string    `json:"sensor_type"`
	RawValue   float64   `json:"raw_data"`
	Timestamp  time.Time `json:"timestamp"`
}

// RemoteResult is the server's processed value. Unit and Quality are
// optional; the local driver fills them in when absent.
type RemoteResult struct {
	Value   float64 `json:"processed_value"`
	Unit    string  `json:"unit,omitempty"`
	Quality string  `json:"quality,omitempty"`
}

// Processor resolves a raw measurement remotely.
type Processor interface {
	Process(ctx context.Context, req RemoteRequest) (RemoteResult, error)
}

const processPath = "/api/v1/sensors/process"

// HTTPProcessor posts raw measurements as JSON to the Pi processing server.
// The request deadline comes from the caller's context.
type HTTPProcessor struct {
	url        string
	nodeID     string
	httpClient *http.Client
}

// NewHTTPProcessor creates a processor for the server at baseURL.
func NewHTTPProcessor(baseURL, nodeID string) *HTTPProcessor {
	return &HTTPProcessor{
		url:        strings.TrimRight(baseURL, "/") + processPath,
		nodeID:     nodeID,
		httpClient: &http.Client{},
	}
}

// Process implements Processor.
func (p *HTTPProcessor) Process(ctx context.Context, in RemoteRequest) (RemoteResult, error) {
	if in.NodeID == "" {
		in.NodeID = p.nodeID
	}
	body, err := json.Marshal(in)
	if err != nil {
		return RemoteResult{}, fmt.Errorf("encoding remote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return RemoteResult{}, fmt.Errorf("remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return RemoteResult{}, fmt.Errorf("remote request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256)) //nolint:errcheck // best-effort error context
		return RemoteResult{}, fmt.Errorf("%w: status %d: %s", ErrRemoteStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out RemoteResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RemoteResult{}, fmt.Errorf("decoding remote result: %w", err)
	}
	return out, nil
}

func parseQuality(s string) (driver.Quality, bool) {
	switch strings.ToLower(s) {
	case "good":
		return driver.QualityGood, true
	case "warning":
		return driver.QualityWarning, true
	case "critical":
		return driver.QualityCritical, true
	case "stale":
		return driver.QualityStale, true
	default:
		return 0, false
	}
}
