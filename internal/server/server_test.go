package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversions/config"
	"conversions/internal/correlation"
	"conversions/internal/identifiers"
	"conversions/internal/meta"
	"conversions/internal/pipeline"
	"conversions/internal/signature"
	"conversions/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockProcessor implements Processor for testing
type MockProcessor struct {
	ProcessFunc func(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error)
	inputs      []pipeline.Input
}

func (m *MockProcessor) Process(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error) {
	m.inputs = append(m.inputs, in)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, in)
	}
	return &pipeline.Outcome{Status: pipeline.StatusSent, Response: &meta.Response{Raw: json.RawMessage(`{"events_received":1}`)}}, nil
}

func newTestServer(p Processor, store correlation.Store) *Server {
	return NewServer(config.ServerConfig{Addr: ":0"}, p, store, nil)
}

func do(t *testing.T, s *Server, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestWebhook_PassesRawBodyAndHints(t *testing.T) {
	p := &MockProcessor{}
	s := newTestServer(p, nil)

	body := `{"id":  1001 , "tags": ""}`
	w := do(t, s, http.MethodPost, WebhookPath, body, map[string]string{
		signature.HeaderName: "c2lnbmF0dXJl",
		"X-Forwarded-For":    "198.51.100.1, 10.0.0.1",
		"User-Agent":         "Shopify-Captain-Hook",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"result":{"events_received":1}}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	require.Len(t, p.inputs, 1)
	in := p.inputs[0]
	assert.Equal(t, body, string(in.Body))
	assert.Equal(t, "c2lnbmF0dXJl", in.Signature)
	assert.Equal(t, "198.51.100.1, 10.0.0.1", in.Hints.ForwardedFor)
	assert.Equal(t, "Shopify-Captain-Hook", in.Hints.UserAgent)
	assert.NotEmpty(t, in.Hints.RemoteAddr)
	assert.False(t, in.ReceivedAt.IsZero())
}

func TestWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		out      *pipeline.Outcome
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "skipped",
			out:      &pipeline.Outcome{Status: pipeline.StatusSkipped},
			wantCode: http.StatusOK,
			wantBody: `{"success":false,"message":"Recurring order ignored"}`,
		},
		{
			name:     "remote rejection",
			out:      &pipeline.Outcome{Status: pipeline.StatusFailed},
			err:      &meta.DeliveryError{StatusCode: 400, Body: []byte(`{"error":{"code":100}}`)},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"success":false,"error":{"error":{"code":100}}}`,
		},
		{
			name:     "unhandled",
			err:      errors.New("failed to decode order webhook: unexpected EOF"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"success":false,"error":"failed to decode order webhook: unexpected EOF"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &MockProcessor{ProcessFunc: func(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error) {
				return tt.out, tt.err
			}}
			w := do(t, newTestServer(p, nil), http.MethodPost, WebhookPath, `{}`, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	p := &MockProcessor{ProcessFunc: func(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error) {
		return nil, errors.Join(pipeline.ErrSignatureRejected, signature.ErrMismatch)
	}}
	w := do(t, newTestServer(p, nil), http.MethodPost, WebhookPath, `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid signature", w.Body.String())
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	p := &MockProcessor{}
	w := do(t, newTestServer(p, nil), http.MethodGet, WebhookPath, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method Not Allowed", w.Body.String())
	assert.Empty(t, p.inputs)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	p := &MockProcessor{}
	s := newTestServer(p, nil)

	w := do(t, s, http.MethodPost, WebhookPath, strings.Repeat("a", maxWebhookBody+1), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, p.inputs)

	w = do(t, s, http.MethodPost, WebhookPath, `{"id":1}`+strings.Repeat(" ", maxWebhookBody-8), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, p.inputs, 1)
	assert.Len(t, p.inputs[0].Body, maxWebhookBody)
}

func TestWebhook_LegacyPath(t *testing.T) {
	p := &MockProcessor{}
	w := do(t, newTestServer(p, nil), http.MethodPost, legacyWebhookPath, `{}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, p.inputs, 1)
}

func TestWebhook_PanicRecovered(t *testing.T) {
	p := &MockProcessor{ProcessFunc: func(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error) {
		panic("boom")
	}}
	w := do(t, newTestServer(p, nil), http.MethodPost, WebhookPath, `{}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestCookies_NotMountedWithoutStore(t *testing.T) {
	w := do(t, newTestServer(&MockProcessor{}, nil), http.MethodGet, CookiesPath+"?key=abc", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCookies_StoreAndLookup(t *testing.T) {
	store := correlation.NewMemoryStore(time.Hour)
	s := newTestServer(&MockProcessor{}, store)

	w := do(t, s, http.MethodPost, CookiesPath, `{"session_id":"cart-abc","fbp":"fb.1.1.1","fbc":"fb.1.1.click"}`,
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = do(t, s, http.MethodGet, CookiesPath+"?key=cart-abc", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"fbp":"fb.1.1.1","fbc":"fb.1.1.click"}`, w.Body.String())

	w = do(t, s, http.MethodGet, CookiesPath+"?key=other", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
}

func TestCookies_KeyFallsBackToForwardedFor(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
	}{
		{name: "single hop", forwarded: "198.51.100.1"},
		{name: "proxy chain", forwarded: " 198.51.100.1 , 10.0.0.2, 10.0.0.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := correlation.NewMemoryStore(time.Hour)
			s := newTestServer(&MockProcessor{}, store)

			w := do(t, s, http.MethodPost, CookiesPath, `{"fbp":"fb.1.1.1"}`, map[string]string{
				"Content-Type":    "application/json",
				"X-Forwarded-For": tt.forwarded,
			})
			require.Equal(t, http.StatusOK, w.Code)

			// The webhook looks records up by browser_ip, the client hop.
			key := identifiers.LookupKey(&models.OrderEvent{BrowserIP: "198.51.100.1"})
			rec, err := store.Get(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, "fb.1.1.1", rec.FBP)
		})
	}
}

func TestCookies_KeyFallsBackToPeerAddress(t *testing.T) {
	store := correlation.NewMemoryStore(time.Hour)
	s := newTestServer(&MockProcessor{}, store)

	w := do(t, s, http.MethodPost, CookiesPath, `{"fbc":"fb.1.1.click"}`, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, w.Code)

	// httptest requests come from 192.0.2.1.
	rec, err := store.Get(context.Background(), "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "fb.1.1.click", rec.FBC)
}

func TestCookies_BadRequestAndWrongVerb(t *testing.T) {
	s := newTestServer(&MockProcessor{}, correlation.NewMemoryStore(time.Hour))

	w := do(t, s, http.MethodPost, CookiesPath, `not json`, map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodDelete, CookiesPath, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"error":"Method Not Allowed"}`, w.Body.String())
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (models.CorrelationRecord, error) {
	return models.CorrelationRecord{}, errors.New("redis: connection refused")
}

func (failingStore) Put(ctx context.Context, key string, rec models.CorrelationRecord) error {
	return errors.New("redis: connection refused")
}

func TestCookies_StoreFailure(t *testing.T) {
	s := newTestServer(&MockProcessor{}, failingStore{})

	w := do(t, s, http.MethodPost, CookiesPath, `{"session_id":"s"}`, map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, s, http.MethodGet, CookiesPath+"?key=s", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := NewServer(config.ServerConfig{Addr: "127.0.0.1:0"}, &MockProcessor{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
