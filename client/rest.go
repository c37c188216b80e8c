// client/rest.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// RESTClient is the generic backend workflow api_call steps go through.
// It injects the session bearer token unless the step supplies its own
// Authorization header.
type RESTClient struct {
	token      string
	httpClient *http.Client
}

func NewRESTClient(token string) *RESTClient {
	return &RESTClient{
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Do performs the request and decodes the JSON response. A non-2xx status
// is an error.
func (c *RESTClient) Do(ctx context.Context, method, url string, headers map[string]string, body interface{}) (interface{}, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Authorization") == "" && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned %d for %s %s", resp.StatusCode, method, url)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return decoded, nil
}
