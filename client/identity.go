// client/identity.go
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aria7-op/adcg-engine/audit"
	engine_errors "github.com/aria7-op/adcg-engine/errors"
	"github.com/aria7-op/adcg-engine/model"
)

// IdentityClient talks to the identity/permission backend.
type IdentityClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewIdentityClient(baseURL, token string) *IdentityClient {
	return &IdentityClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchUserAccess retrieves the user's roles, permissions and grants.
func (c *IdentityClient) FetchUserAccess(ctx context.Context, userID string) (*model.UserAccessData, error) {
	url := fmt.Sprintf("%s/rbac/user/%s/permissions", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine_errors.ErrPermissionLoadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: identity backend returned %d", engine_errors.ErrPermissionLoadFailed, resp.StatusCode)
	}

	var data model.UserAccessData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", engine_errors.ErrPermissionLoadFailed, err)
	}
	return &data, nil
}

// LogAccess forwards one access log entry to the identity backend. Callers
// treat this as fire-and-forget.
func (c *IdentityClient) LogAccess(ctx context.Context, entry audit.AccessLogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	url := c.baseURL + "/rbac/access-log"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytesReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("identity backend returned %d", resp.StatusCode)
	}
	return nil
}

// QueryLogs is not supported by the identity backend; historical queries
// go to the search collector instead.
func (c *IdentityClient) QueryLogs(ctx context.Context, from, to time.Time, userID, resource string) ([]audit.AccessLogEntry, error) {
	return nil, nil
}

func (c *IdentityClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
