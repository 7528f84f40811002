// Package relay implements the HTTP client for the privacy-preserving
// prompt-relay service. It covers the two remote surfaces the client
// consumes: credential issuance (login/register) and the conversation
// endpoints (process/history). The anonymization itself runs entirely
// server-side; this package only moves requests and responses.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"privateprompt/internal/logger"
)

// CredentialSource supplies the bearer credential for authorized calls.
// It is implemented by the session layer; the relay client never stores
// credentials itself.
type CredentialSource interface {
	// Credential returns the current session credential, or false when the
	// client is unauthenticated.
	Credential() (string, bool)
}

// CredentialSourceFunc adapts a plain function to CredentialSource.
type CredentialSourceFunc func() (string, bool)

// Credential calls f().
func (f CredentialSourceFunc) Credential() (string, bool) { return f() }

// Client talks to the prompt-relay service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
}

// NewClient creates a relay client for the given base URL. Authorized calls
// draw their bearer credential from creds on every request.
func NewClient(baseURL string, timeout time.Duration, creds CredentialSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
	}
}

// Login exchanges username/password for a session credential.
func (c *Client) Login(ctx context.Context, username, password string) (*IssuedCredential, error) {
	return c.issueCredential(ctx, "/login", username, password)
}

// Register creates an account. Deployments that auto-authenticate return a
// credential; others return success with an empty AccessToken.
func (c *Client) Register(ctx context.Context, username, password string) (*IssuedCredential, error) {
	return c.issueCredential(ctx, "/register", username, password)
}

func (c *Client) issueCredential(ctx context.Context, path, username, password string) (*IssuedCredential, error) {
	var parsed credentialResponse
	err := c.postJSON(ctx, path, credentialRequest{Username: username, Password: password}, "", &parsed)
	if err != nil {
		return nil, err
	}
	return &IssuedCredential{AccessToken: parsed.AccessToken, ExpiresIn: parsed.ExpiresIn}, nil
}

// Send submits a prompt together with the reconstructed prior history and
// returns the relay's confirmed exchange. Fails fast with ErrUnauthenticated
// when no credential is available.
func (c *Client) Send(ctx context.Context, prompt string, history []Turn) (*ExchangeResult, error) {
	credential, ok := c.creds.Credential()
	if !ok {
		return nil, ErrUnauthenticated
	}

	// history must never be serialized as null
	if history == nil {
		history = []Turn{}
	}

	var parsed sendResponse
	err := c.postJSON(ctx, "/process", sendRequest{Prompt: prompt, History: history}, credential, &parsed)
	if err != nil {
		return nil, err
	}

	logger.Debug("Relay exchange confirmed",
		"response_len", len(parsed.Response),
		"mapping_count", len(parsed.Mapping))

	return &ExchangeResult{
		DisplayText:            parsed.Response,
		AnonymizedPrompt:       parsed.AnonymizedPrompt,
		RawModelOutput:         parsed.LLMRaw,
		RecontextualizedOutput: parsed.LLMAfterRecontext,
		Mapping:                parsed.Mapping,
	}, nil
}

// FetchHistory retrieves the ordered prior turns stored by the relay.
// Fails fast with ErrUnauthenticated when no credential is available.
func (c *Client) FetchHistory(ctx context.Context) ([]HistoryTurn, error) {
	credential, ok := c.creds.Credential()
	if !ok {
		return nil, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, serverErrorFrom(resp.StatusCode, body)
	}

	var parsed historyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	return parsed.History, nil
}

// postJSON sends a JSON POST to path and decodes a 2xx response into out.
// credential is attached as a bearer token when non-empty.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, credential string, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return serverErrorFrom(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// serverErrorFrom maps a non-2xx response to a ServerError, preferring the
// server-reported {error} payload over the bare status text.
func serverErrorFrom(status int, body []byte) error {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &ServerError{Code: status, Message: payload.Error}
	}
	return &ServerError{Code: status, Message: http.StatusText(status)}
}
