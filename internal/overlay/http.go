package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HeaderTopics carries the JSON topic list of a submission.
const HeaderTopics = "X-Topics"

// maxResponseSize bounds the body read from an overlay.
const maxResponseSize = 1 << 20

// HTTPFacilitator submits bundles to an overlay over HTTP.
type HTTPFacilitator struct {
	url    string
	client *http.Client
}

// NewHTTPFacilitator creates a facilitator for the overlay at url.
func NewHTTPFacilitator(url string) *HTTPFacilitator {
	return &HTTPFacilitator{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts the bundle to <url>/submit.
func (f *HTTPFacilitator) Send(ctx context.Context, tagged TaggedBEEF) (STEAK, error) {
	topics, err := json.Marshal(tagged.Topics)
	if err != nil {
		return nil, fmt.Errorf("marshal topics: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url+"/submit", bytes.NewReader(tagged.Beef))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderTopics, string(topics))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var steak STEAK
	if err := json.Unmarshal(body, &steak); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return steak, nil
}
