package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
)

// HTTPTransport sends a conversation turn's prompt as a JSON POST body to a
// configured planner endpoint and decodes the JSON response, synchronously.
// It retries once on a transport-level failure (connection refused, reset,
// timeout) but never retries an HTTP error status — that is an application-
// level failure the caller (ConversationManager) surfaces as-is.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport builds a transport posting to endpoint with the given
// per-request timeout.
func NewHTTPTransport(endpoint string, timeoutMs int) *HTTPTransport {
	if timeoutMs <= 0 {
		timeoutMs = 15000
	}
	return &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

// SendPrompt implements conversation.PlannerTransport.
func (t *HTTPTransport) SendPrompt(ctx context.Context, prompt map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(prompt)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshalling planner prompt", err)
	}

	resp, err := t.post(ctx, body)
	if err != nil {
		resp, err = t.post(ctx, body)
		if err != nil {
			return nil, errs.Wrap(errs.PlannerUnavailable, "sending prompt to planner", err)
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.PlannerUnavailable, "reading planner response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.PlannerUnavailable, fmt.Sprintf("planner returned HTTP %d: %s", resp.StatusCode, respBody))
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, errs.Wrap(errs.PlannerUnavailable, "decoding planner response", err)
	}
	return decoded, nil
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.client.Do(req)
}
