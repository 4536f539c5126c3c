package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Timeout bounds every outbound provider call. Exchanges and refreshes that
// exceed it are treated as transient transport failures.
const Timeout = 10 * time.Second

// NewHTTPClient returns the http.Client adapters share. Kept in one place so
// the timeout policy is uniform across providers.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: Timeout}
}

// tokenWire is the common shape of OAuth2 token endpoint responses.
type tokenWire struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`

	Error     string `json:"error,omitempty"`
	ErrorDesc string `json:"error_description,omitempty"`
}

// PostTokenForm POSTs a form to a token endpoint and decodes the standard
// token response. Non-2xx becomes *HTTPError, undecodable or token-less
// bodies become *ResponseError, network failures become ErrTransport.
func PostTokenForm(ctx context.Context, hc *http.Client, name, endpoint string, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, classifyTransport(name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransport(name, err)
	}

	var tw tokenWire
	if resp.StatusCode/100 != 2 {
		_ = json.Unmarshal(body, &tw) // best effort, solo para el mensaje
		return nil, &HTTPError{Provider: name, Status: resp.StatusCode, Code: tw.Error, Detail: tw.ErrorDesc}
	}
	if err := json.Unmarshal(body, &tw); err != nil {
		return nil, &ResponseError{Provider: name, Reason: "undecodable token payload"}
	}
	// GitHub responde 200 con un error en el body.
	if tw.Error != "" {
		return nil, &HTTPError{Provider: name, Status: resp.StatusCode, Code: tw.Error, Detail: tw.ErrorDesc}
	}
	if tw.AccessToken == "" {
		return nil, &ResponseError{Provider: name, Reason: "no access_token in response"}
	}

	tokenType := tw.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		AccessToken:  tw.AccessToken,
		RefreshToken: tw.RefreshToken,
		TokenType:    tokenType,
		Scope:        tw.Scope,
		ExpiresIn:    tw.ExpiresIn,
	}, nil
}

// GetJSON performs an authorized GET against a provider API and decodes the
// JSON body into out, with the same error classification as PostTokenForm.
func GetJSON(ctx context.Context, hc *http.Client, name, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return classifyTransport(name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &HTTPError{Provider: name, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return &ResponseError{Provider: name, Reason: "undecodable profile payload"}
	}
	return nil
}
