package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vango-go/vai-memoir/pkg/core"
)

func TestBackendIssuer_SignedURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer backend-token", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u_1", body["user_id"])
		assert.Equal(t, "agent_1", body["agent_id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signed_url":"wss://agent.example/conv?token=abc"}`))
	}))
	defer server.Close()

	issuer, err := NewBackendIssuer(BackendOptions{Endpoint: server.URL + "/signed-url", BearerToken: "backend-token"})
	require.NoError(t, err)

	url, err := issuer.SignedURL(context.Background(), "u_1", "agent_1")
	require.NoError(t, err)
	assert.Equal(t, "wss://agent.example/conv?token=abc", url)
}

func TestBackendIssuer_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "missing url", status: http.StatusOK, body: `{}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			issuer, err := NewBackendIssuer(BackendOptions{Endpoint: server.URL})
			require.NoError(t, err)
			_, err = issuer.SignedURL(context.Background(), "u_1", "agent_1")
			require.Error(t, err)
			assert.True(t, core.IsType(err, core.ErrCredential))
		})
	}
}

func TestBackendIssuer_RequiresUser(t *testing.T) {
	t.Parallel()

	issuer, err := NewBackendIssuer(BackendOptions{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = issuer.SignedURL(context.Background(), " ", "agent_1")
	assert.True(t, core.IsType(err, core.ErrCredential))
}

func TestUpstreamIssuer_SignedURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/convai/conversation/get-signed-url", r.URL.Path)
		assert.Equal(t, "agent_1", r.URL.Query().Get("agent_id"))
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signed_url":"wss://upstream.example/conv?token=xyz"}`))
	}))
	defer server.Close()

	issuer, err := NewUpstreamIssuer(UpstreamOptions{BaseURL: server.URL + "/", APIKey: "xi-key"})
	require.NoError(t, err)

	url, err := issuer.SignedURL(context.Background(), "u_1", "agent_1")
	require.NoError(t, err)
	assert.Equal(t, "wss://upstream.example/conv?token=xyz", url)
}

func TestNewUpstreamIssuer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewUpstreamIssuer(UpstreamOptions{APIKey: "k"})
	assert.Error(t, err)
	_, err = NewUpstreamIssuer(UpstreamOptions{BaseURL: "https://api.example"})
	assert.Error(t, err)
}
