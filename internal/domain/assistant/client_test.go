package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newGeminiServer(t *testing.T, status int, body string) (*httptest.Server, *generateRequest) {
	t.Helper()
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-test:generateContent" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			http.Error(w, "missing key", http.StatusForbidden)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func testClient(url, key string) *GeminiClient {
	return NewGeminiClient(GeminiConfig{APIKey: key, Model: "gemini-test", BaseURL: url, Timeout: 2 * time.Second})
}

func TestGeminiClient_Generate(t *testing.T) {
	srv, got := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Apply pressure."},{"text":" Elevate."}]}}]}`)

	text, err := testClient(srv.URL, "test-key").Generate(context.Background(), []Content{
		{Role: "user", Parts: []Part{{Text: "bleeding arm"}}},
	})
	require.NoError(t, err)
	require.Equal(t, "Apply pressure. Elevate.", text)
	require.Len(t, got.Contents, 1)
	require.Equal(t, "bleeding arm", got.Contents[0].Parts[0].Text)
}

func TestGeminiClient_UpstreamError(t *testing.T) {
	srv, _ := newGeminiServer(t, http.StatusTooManyRequests,
		`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)

	_, err := testClient(srv.URL, "test-key").Generate(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota exceeded")
}

func TestGeminiClient_NoCandidates(t *testing.T) {
	srv, _ := newGeminiServer(t, http.StatusOK, `{"candidates":[]}`)
	_, err := testClient(srv.URL, "test-key").Generate(context.Background(), nil)
	require.Error(t, err)
}

func TestGeminiClient_MissingKey(t *testing.T) {
	_, err := testClient("http://127.0.0.1:1", "").Generate(context.Background(), nil)
	require.True(t, errors.Is(err, ErrNotConfigured))
}
