package aisuggest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, key string) Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultOpenAIConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = key
	return NewOpenAIProvider(cfg, srv.Client(), logger.Nop())
}

func chatBody(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(raw)
}

func requireKind(t *testing.T, err error, kind apperr.AIKind) *apperr.AIProviderError {
	t.Helper()
	var pe *apperr.AIProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, kind, pe.Kind)
	return pe
}

func TestOpenAICompleteSendsChatRequest(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatBody(`{"item_ids":["1"],"rationale":"ok"}`))
	}, "sk-test")

	content, err := p.Complete(context.Background(), "sys", "usr")
	require.NoError(t, err)
	assert.Equal(t, `{"item_ids":["1"],"rationale":"ok"}`, content)

	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "sys", got.Messages[0].Content)
	assert.Equal(t, "usr", got.Messages[1].Content)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestOpenAICompleteMissingKey(t *testing.T) {
	called := false
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, "")

	_, err := p.Complete(context.Background(), "sys", "usr")
	requireKind(t, err, apperr.AIKindAuth)
	assert.False(t, called)
}

func TestOpenAICompleteNon2xx(t *testing.T) {
	tests := []struct {
		status int
		kind   apperr.AIKind
	}{
		{http.StatusUnauthorized, apperr.AIKindAuth},
		{http.StatusForbidden, apperr.AIKindAuth},
		{http.StatusTooManyRequests, apperr.AIKindStatus},
		{http.StatusInternalServerError, apperr.AIKindStatus},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}, "sk-test")

			_, err := p.Complete(context.Background(), "sys", "usr")
			pe := requireKind(t, err, tt.kind)
			assert.Equal(t, tt.status, pe.Status)
		})
	}
}

func TestOpenAICompleteMalformedEnvelope(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   "<html>gateway</html>",
		"no choices": `{"choices":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}, "sk-test")

			_, err := p.Complete(context.Background(), "sys", "usr")
			requireKind(t, err, apperr.AIKindMalformed)
		})
	}
}

func TestOpenAICompleteTimeout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, "sk-test")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, "sys", "usr")
	requireKind(t, err, apperr.AIKindTimeout)
}

func TestOpenAICompleteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := DefaultOpenAIConfig()
	cfg.BaseURL = url
	cfg.APIKey = "sk-test"
	p := NewOpenAIProvider(cfg, nil, logger.Nop())

	_, err := p.Complete(context.Background(), "sys", "usr")
	requireKind(t, err, apperr.AIKindTransport)
}
