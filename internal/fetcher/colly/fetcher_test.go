package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>info@widgets.example</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "mailsift-test", Timeout: 5 * time.Second})
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.ContentType, "text/html")
	require.Contains(t, string(res.Body), "info@widgets.example")
	require.Positive(t, res.Duration)
}

func TestFetch_HTTPErrorKeepsStatusCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	res, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: 2 * time.Second})
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/none")
	require.Error(t, err)
}

func TestFetch_ContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 30 * time.Second})
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
