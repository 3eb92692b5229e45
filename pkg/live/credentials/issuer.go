// Package credentials exchanges a user and agent identifier for a single-use signed
// connection URL.
package credentials

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vango-go/vai-memoir/pkg/core"
)

const defaultTimeout = 10 * time.Second

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

type signedURLRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

// BackendIssuer asks the application backend for a signed URL scoped to a user.
type BackendIssuer struct {
	client   *resty.Client
	endpoint string
}

// BackendOptions configures NewBackendIssuer.
type BackendOptions struct {
	Endpoint    string
	BearerToken string
	Timeout     time.Duration
	Client      *resty.Client
}

func NewBackendIssuer(opts BackendOptions) (*BackendIssuer, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("credentials: endpoint is required")
	}
	client := opts.Client
	if client == nil {
		client = resty.New()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.SetTimeout(timeout)
	if token := strings.TrimSpace(opts.BearerToken); token != "" {
		client.SetAuthToken(token)
	}
	return &BackendIssuer{client: client, endpoint: endpoint}, nil
}

// SignedURL exchanges userID and agentID for a signed URL.
func (i *BackendIssuer) SignedURL(ctx context.Context, userID, agentID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", core.NewCredentialError("user id is required", nil)
	}
	var out signedURLResponse
	resp, err := i.client.R().
		SetContext(ctx).
		SetBody(signedURLRequest{UserID: userID, AgentID: agentID}).
		SetResult(&out).
		Post(i.endpoint)
	return extract(resp, err, out)
}

// UpstreamIssuer requests a signed URL directly from the agent platform using an API key.
type UpstreamIssuer struct {
	client *resty.Client
}

// UpstreamOptions configures NewUpstreamIssuer.
type UpstreamOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *resty.Client
}

func NewUpstreamIssuer(opts UpstreamOptions) (*UpstreamIssuer, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("credentials: base url is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("credentials: api key is required")
	}
	client := opts.Client
	if client == nil {
		client = resty.New()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("xi-api-key", strings.TrimSpace(opts.APIKey))
	return &UpstreamIssuer{client: client}, nil
}

// SignedURL requests a signed URL for agentID. The user id travels later in the
// initiation frame, so it is only validated here.
func (i *UpstreamIssuer) SignedURL(ctx context.Context, userID, agentID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", core.NewCredentialError("user id is required", nil)
	}
	if strings.TrimSpace(agentID) == "" {
		return "", core.NewCredentialError("agent id is required", nil)
	}
	var out signedURLResponse
	resp, err := i.client.R().
		SetContext(ctx).
		SetQueryParam("agent_id", agentID).
		SetResult(&out).
		Get("/v1/convai/conversation/get-signed-url")
	return extract(resp, err, out)
}

func extract(resp *resty.Response, err error, out signedURLResponse) (string, error) {
	if err != nil {
		return "", core.NewCredentialError("signed url request failed", err)
	}
	if resp.IsError() {
		return "", core.NewCredentialError(fmt.Sprintf("signed url request returned status %d", resp.StatusCode()), nil)
	}
	signed := strings.TrimSpace(out.SignedURL)
	if signed == "" {
		return "", core.NewCredentialError("signed url missing from response", nil)
	}
	return signed, nil
}
