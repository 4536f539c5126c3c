package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostTokenForm_OK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"scope":"email"}`))
	}))
	defer srv.Close()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	tok, err := PostTokenForm(context.Background(), srv.Client(), "test", srv.URL, form)
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType) // default cuando falta token_type
	assert.Equal(t, 3600, tok.ExpiresIn)
}

func TestPostTokenForm_Non2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"bad code"}`))
	}))
	defer srv.Close()

	_, err := PostTokenForm(context.Background(), srv.Client(), "test", srv.URL, url.Values{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Equal(t, "invalid_grant", httpErr.Code)
	assert.False(t, IsTransient(err), "4xx no debe reintentar")
}

func TestPostTokenForm_ErrorInBody200(t *testing.T) {
	t.Parallel()
	// GitHub style: 200 con error en el body
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"bad_verification_code","error_description":"nope"}`))
	}))
	defer srv.Close()

	_, err := PostTokenForm(context.Background(), srv.Client(), "test", srv.URL, url.Values{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "bad_verification_code", httpErr.Code)
}

func TestPostTokenForm_MissingAccessToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	_, err := PostTokenForm(context.Background(), srv.Client(), "test", srv.URL, url.Values{})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
}

func TestPostTokenForm_MalformedJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := PostTokenForm(context.Background(), srv.Client(), "test", srv.URL, url.Values{})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.False(t, IsTransient(err))
}

func TestPostTokenForm_TransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // cerrado a propósito

	_, err := PostTokenForm(context.Background(), http.DefaultClient, "test", srv.URL, url.Values{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, IsTransient(err))
}

func TestIsTransient_5xx(t *testing.T) {
	t.Parallel()
	assert.True(t, IsTransient(&HTTPError{Provider: "x", Status: 502}))
	assert.False(t, IsTransient(&HTTPError{Provider: "x", Status: 401}))
	assert.False(t, IsTransient(&ResponseError{Provider: "x", Reason: "r"}))
}

func TestRegistry_ClosedSet(t *testing.T) {
	t.Parallel()
	reg, err := NewRegistry()
	require.NoError(t, err)
	_, err = reg.Get("google")
	var unknown *UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "google", unknown.Name)
	assert.Empty(t, reg.Names())
}
