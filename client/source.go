package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Source is where a view gets its progress data: a pull-based snapshot and
// a push-based event stream. Stream blocks until ctx is cancelled or the
// connection drops; the caller owns reconnection.
type Source interface {
	Snapshot(ctx context.Context, transferID string) (*Snapshot, error)
	Stream(ctx context.Context, transferID string, fn func(Event)) error
}

// HTTPSource consumes the progress display surface over HTTP: snapshots
// via GET and events via server-sent events.
type HTTPSource struct {
	baseURL string
	// snapshots use a bounded-timeout client; the stream client has no
	// timeout and is cancelled through ctx
	snapClient   *http.Client
	streamClient *http.Client
}

// NewHTTPSource creates a source against the API base URL
// (e.g. "http://localhost:8080/api/v1").
func NewHTTPSource(baseURL string, snapshotTimeout time.Duration) *HTTPSource {
	if snapshotTimeout <= 0 {
		snapshotTimeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL:      strings.TrimRight(baseURL, "/"),
		snapClient:   &http.Client{Timeout: snapshotTimeout},
		streamClient: &http.Client{},
	}
}

// Snapshot fetches the latest progress state.
func (s *HTTPSource) Snapshot(ctx context.Context, transferID string) (*Snapshot, error) {
	url := fmt.Sprintf("%s/transfers/%s/progress", s.baseURL, transferID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := s.snapClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("snapshot request returned status %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data Snapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &envelope.Data, nil
}

// Stream subscribes to the transfer's SSE stream and invokes fn for every
// event until ctx is cancelled or the connection drops.
func (s *HTTPSource) Stream(ctx context.Context, transferID string, fn func(Event)) error {
	url := fmt.Sprintf("%s/transfers/%s/stream", s.baseURL, transferID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stream request returned status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				var evt Event
				if err := json.Unmarshal([]byte(data.String()), &evt); err == nil {
					fn(evt)
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// event: names and comment heartbeats carry no payload we
			// need; the kind is part of the JSON data
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
