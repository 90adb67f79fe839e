package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPLookup_Found(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "cart token/1", r.URL.Query().Get("key"))
		assert.Equal(t, "eu", r.URL.Query().Get("region"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"fbp":"fb.1.1.1","fbc":null}`))
	}))
	defer server.Close()

	l := NewHTTPLookup(server.URL+"/lookup?region=eu", time.Second)
	rec, err := l.Get(context.Background(), "cart token/1")
	require.NoError(t, err)
	assert.Equal(t, "fb.1.1.1", rec.FBP)
	assert.Empty(t, rec.FBC)
}

func TestHTTPLookup_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not found"}`))
	}))
	defer server.Close()

	_, err := NewHTTPLookup(server.URL, time.Second).Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPLookup_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := NewHTTPLookup(server.URL, time.Second).Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "status=502")
}

func TestHTTPLookup_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewHTTPLookup(server.URL, 20*time.Millisecond).Get(context.Background(), "k")
	require.Error(t, err)
}
