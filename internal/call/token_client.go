package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const tokenRequestTimeout = 10 * time.Second

// HTTPTokenClient fetches room grants from the token issuer endpoint
// (POST /videocall/token). It implements TokenSource.
type HTTPTokenClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPTokenClient creates a token client against the given base URL.
// authToken is the caller's API bearer token, passed through on every fetch.
func NewHTTPTokenClient(baseURL, authToken string) *HTTPTokenClient {
	return &HTTPTokenClient{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: tokenRequestTimeout,
		},
	}
}

type tokenRequest struct {
	Identity string `json:"identity"`
	RoomName string `json:"room_name"`
}

type tokenResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchToken requests a grant for the identity/room pair
func (c *HTTPTokenClient) FetchToken(ctx context.Context, identity, roomName string) (string, error) {
	body, err := json.Marshal(tokenRequest{Identity: identity, RoomName: roomName})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videocall/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token issuer unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("malformed token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !parsed.Success {
		if parsed.Error.Message != "" {
			return "", fmt.Errorf("token issuer denied the request: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("token issuer returned status %d", resp.StatusCode)
	}

	if parsed.Data.Token == "" {
		return "", fmt.Errorf("token issuer returned an empty token")
	}

	return parsed.Data.Token, nil
}
