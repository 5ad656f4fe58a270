package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>Séance</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{
		UserAgent: "sessions-test/1.0",
		Timeout:   5 * time.Second,
		Headers:   http.Header{"Accept-Language": {"fr-CH"}},
	}, nil, nil)

	body, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "<html><body>Séance</body></html>", string(body))
	got := <-headers
	assert.Equal(t, "sessions-test/1.0", got.Get("User-Agent"))
	assert.Equal(t, "fr-CH", got.Get("Accept-Language"))
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{}, nil, nil)
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits)
}

func TestFetchNon2xxIsErrStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}, nil, nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}, nil, nil).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatus)
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}, nil, nil).Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchWaitsOnWaiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	w := &recordingWaiter{}
	_, err := New(Config{}, w, nil).Fetch(context.Background(), srv.URL+"/x")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/x"}, w.urls)

	w.err = errors.New("blocked")
	_, err = New(Config{}, w, nil).Fetch(context.Background(), srv.URL+"/y")
	require.ErrorIs(t, err, w.err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil, nil)
	var body []byte
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &body, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	assert.Equal(t, "body", string(body))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.ErrorIs(t, fetchErr, ErrStatus)
}

func TestBuildCollectorDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "agent", MaxBodySize: 1024}, nil, nil)
	collector := f.buildCollector()
	assert.Equal(t, "agent", collector.UserAgent)
	assert.Equal(t, 1024, collector.MaxBodySize)
	assert.True(t, collector.AllowURLRevisit)
}

type recordingWaiter struct {
	urls []string
	err  error
}

func (w *recordingWaiter) Wait(_ context.Context, rawURL string) error {
	w.urls = append(w.urls, rawURL)
	return w.err
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
