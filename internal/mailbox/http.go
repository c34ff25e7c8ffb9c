package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HeaderIdentity carries the caller's identity key.
const HeaderIdentity = "X-Identity-Key"

const maxBodySize = 32 << 20

type sendRequest struct {
	Recipient string          `json:"recipient"`
	Box       string          `json:"messageBox"`
	Body      json.RawMessage `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type listRequest struct {
	Box string `json:"messageBox"`
}

type listResponse struct {
	Messages []Message `json:"messages"`
}

type ackRequest struct {
	MessageIDs []string `json:"messageIds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPClient talks to a mailbox server as one identity.
type HTTPClient struct {
	url      string
	identity string
	client   *http.Client
}

// NewHTTPClient creates a client for the server at url.
func NewHTTPClient(url, identity string) *HTTPClient {
	return &HTTPClient{
		url:      strings.TrimRight(url, "/"),
		identity: identity,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdentity, c.identity)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		if er.Error == "" {
			er.Error = strings.TrimSpace(string(body))
		}
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("mailbox %s: %s", path, er.Error)
		}
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, er.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// SendMessage implements Client.
func (c *HTTPClient) SendMessage(ctx context.Context, recipient, box string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("message body: %w", err)
	}
	var resp sendResponse
	if err := c.post(ctx, "/sendMessage", sendRequest{Recipient: recipient, Box: box, Body: raw}, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// ListMessages implements Client.
func (c *HTTPClient) ListMessages(ctx context.Context, box string) ([]Message, error) {
	var resp listResponse
	if err := c.post(ctx, "/listMessages", listRequest{Box: box}, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []Message{}
	}
	return resp.Messages, nil
}

// AcknowledgeMessage implements Client.
func (c *HTTPClient) AcknowledgeMessage(ctx context.Context, ids []string) error {
	return c.post(ctx, "/acknowledgeMessage", ackRequest{MessageIDs: ids}, nil)
}

// Handler serves the hub over HTTP. The caller identity is taken from the
// X-Identity-Key header.
func Handler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		identity, ok := decode(w, r, &req)
		if !ok {
			return
		}
		id, err := h.Send(identity, req.Recipient, req.Box, req.Body)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, sendResponse{MessageID: id})
	})
	mux.HandleFunc("/listMessages", func(w http.ResponseWriter, r *http.Request) {
		var req listRequest
		identity, ok := decode(w, r, &req)
		if !ok {
			return
		}
		msgs, err := h.List(identity, req.Box)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, listResponse{Messages: msgs})
	})
	mux.HandleFunc("/acknowledgeMessage", func(w http.ResponseWriter, r *http.Request) {
		var req ackRequest
		identity, ok := decode(w, r, &req)
		if !ok {
			return
		}
		if err := h.Acknowledge(identity, req.MessageIDs); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, struct {
			Status string `json:"status"`
		}{"success"})
	})
	return mux
}

func decode(w http.ResponseWriter, r *http.Request, v any) (string, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return "", false
	}
	identity := r.Header.Get(HeaderIdentity)
	if identity == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing "+HeaderIdentity))
		return "", false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %v", err))
		return "", false
	}
	return identity, true
}

func statusFor(err error) int {
	if errors.Is(err, ErrInvalidRecipient) || errors.Is(err, ErrInvalidBox) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
