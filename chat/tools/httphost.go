package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pinkfuwa/llumen-go/internal/urlguard"
)

const httpHostMaxBodyBytes = 1 << 20

// doHTTPHost backs the lua_repl sandbox's http.get/http.post host functions.
// Every call goes through the SSRF guard before dialing — no host function
// may touch the network without it.
func doHTTPHost(ctx context.Context, client *http.Client, resolver urlguard.Resolver, method string, args json.RawMessage) (any, error) {
	var params struct {
		URL     string            `json:"url"`
		Body    string            `json:"body"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid host call args: %w", err)
	}

	u, err := urlguard.Check(ctx, resolver, params.URL)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if method == http.MethodPost {
		bodyReader = bytes.NewReader([]byte(params.Body))
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpHostMaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > httpHostMaxBodyBytes {
		body = body[:httpHostMaxBodyBytes]
	}

	return map[string]any{
		"status": float64(resp.StatusCode),
		"body":   string(body),
	}, nil
}
