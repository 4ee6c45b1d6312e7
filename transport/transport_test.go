package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

func TestExecute(t *testing.T) {
	var gotMethod, gotBody, gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		switch r.URL.Path {
		case "/api/ok":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/api/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/api/text":
			_, _ = w.Write([]byte("not json"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL+"/api/"), WithHeader("Authorization", "Bearer t"))

	t.Run("JSON Response", func(t *testing.T) {
		body, err := c.Execute(context.Background(), Request{Method: "post", URL: "/ok", Body: json.RawMessage(`{"a":1}`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(body))
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, `{"a":1}`, gotBody)
		assert.Equal(t, "Bearer t", gotAuth)
		assert.Equal(t, "application/json", gotType)
	})

	t.Run("Empty Body", func(t *testing.T) {
		body, err := c.Execute(context.Background(), Request{URL: "empty"})
		require.NoError(t, err)
		assert.Nil(t, body)
		assert.Equal(t, http.MethodGet, gotMethod)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		_, err := c.Execute(context.Background(), Request{URL: "/text"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDeserialization))
		assert.True(t, errors.IsPermanent(err))
	})

	t.Run("Ignore Body", func(t *testing.T) {
		body, err := c.Execute(context.Background(), Request{URL: "/text", IgnoreBody: true})
		require.NoError(t, err)
		assert.Nil(t, body)
	})

	t.Run("Not Found Is Permanent", func(t *testing.T) {
		_, err := c.Execute(context.Background(), Request{URL: "/missing"})
		require.Error(t, err)
		assert.True(t, errors.IsPermanent(err))
		assert.Equal(t, http.StatusNotFound, StatusCode(err))
	})
}

func TestExecuteStatusClasses(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		sentinel  error
	}{
		{http.StatusInternalServerError, true, errors.ErrServer},
		{http.StatusServiceUnavailable, true, errors.ErrServer},
		{http.StatusTooManyRequests, true, errors.ErrServer},
		{http.StatusRequestTimeout, true, errors.ErrTimeout},
		{http.StatusBadRequest, false, errors.ErrClient},
		{http.StatusUnprocessableEntity, false, errors.ErrClient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", tt.status)
			}))
			defer srv.Close()

			_, err := New().Execute(context.Background(), Request{URL: srv.URL})
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.IsTransient(err))
			assert.Equal(t, tt.transient, IsTransientStatus(tt.status))
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.Equal(t, tt.status, StatusCode(err))

			var herr *HTTPError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, "boom", herr.Body)
		})
	}
}

func TestExecuteTransportFailures(t *testing.T) {
	t.Run("Unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New().Execute(context.Background(), Request{URL: url})
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
		assert.True(t, errors.Is(err, errors.ErrNetwork))
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		_, err := New(WithTimeout(20*time.Millisecond)).Execute(context.Background(), Request{URL: srv.URL})
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
		assert.True(t, errors.Is(err, errors.ErrTimeout))
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New().Execute(ctx, Request{URL: "http://127.0.0.1:1"})
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
		assert.True(t, errors.Is(err, errors.ErrAborted))
	})
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestResolve(t *testing.T) {
	c := New(WithBaseURL("https://api.example.com/v1/"))
	assert.Equal(t, "https://api.example.com/v1/models", c.Resolve("/models"))
	assert.Equal(t, "https://api.example.com/v1/models", c.Resolve("models"))
	assert.Equal(t, "http://other/x", c.Resolve("http://other/x"))
	assert.Equal(t, "/x", New().Resolve("/x"))

	var seen string
	c = New(WithBaseURL("https://api.example.com"), WithDoer(doerFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.URL.String()
		return httptest.NewRecorder().Result(), nil
	})))
	_, err := c.Execute(context.Background(), Request{URL: "/health"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/health", seen)
}
