package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPResolver calls the profile directory's batch endpoint:
//
//	POST <url> {"ids": [...]} -> {"profiles": [...], "errors": [...]}
type HTTPResolver struct {
	url    string
	client *http.Client
}

// NewHTTPResolver creates a resolver for the directory at url.
func NewHTTPResolver(url string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPResolver{url: url, client: &http.Client{Timeout: timeout}}
}

// ResolveProfiles implements Resolver.
func (h *HTTPResolver) ResolveProfiles(ctx context.Context, ids []string) (Result, error) {
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return Result{}, fmt.Errorf("profile: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("profile: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("profile: directory request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("profile: directory returned %s", resp.Status)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("profile: decode response: %w", err)
	}
	res.Partial = len(res.Errors) > 0
	return res, nil
}
