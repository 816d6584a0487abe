package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient calls a settlement service over its JSON API:
//
//	POST /transfers          {"destination": "...", "item_ids": [1,2]} -> {"operations": {"1": "op", "2": "op"}}
//	GET  /operations/{id}    -> {"state": "confirmed"}
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) Transfer(ctx context.Context, itemIDs []uint64, destination string) (map[uint64]string, error) {
	body, err := json.Marshal(struct {
		Destination string   `json:"destination"`
		ItemIDs     []uint64 `json:"item_ids"`
	}{destination, itemIDs})
	if err != nil {
		return nil, err
	}

	var out struct {
		Operations map[string]string `json:"operations"`
	}
	if err := c.do(ctx, http.MethodPost, "/transfers", body, &out); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("transfer: %w: %s", ErrRejected, se)
		}
		return nil, fmt.Errorf("transfer: %w", err)
	}

	ops := make(map[uint64]string, len(out.Operations))
	for k, v := range out.Operations {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("transfer: invalid item id %q in response", k)
		}
		ops[id] = v
	}
	return ops, nil
}

func (c *HTTPClient) OperationState(ctx context.Context, operationID string) (State, error) {
	var out struct {
		State State `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, "/operations/"+url.PathEscape(operationID), nil, &out); err != nil {
		return "", fmt.Errorf("operation %s: %w", operationID, err)
	}
	return out.State, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	return json.Unmarshal(b, out)
}

// StatusError is a non-2xx reply of the settlement service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.Code, e.Body)
}
