package tracking

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, repo *memRepo) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(newTestRecorder(repo, 0)).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func TestHandleOpenAlwaysServesPixel(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	srv := newTestServer(t, repo)

	for _, token := range []string{"tok-1", "tok-1", "unknown"} {
		resp, err := http.Get(srv.URL + "/open/" + token)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
	}
	assert.Equal(t, 1, repo.count("open"))
}

func TestHandleOpenStoreErrorStillServesPixel(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("db down")
	srv := newTestServer(t, repo)

	resp, err := http.Get(srv.URL + "/open/tok-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
}

func TestHandleClick(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	srv := newTestServer(t, repo)

	resp, err := noRedirect().Get(srv.URL + "/click/link-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/offer", resp.Header.Get("Location"))

	resp, err = noRedirect().Get(srv.URL + "/click/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleClickRecordFailureStillRedirects(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	srv := newTestServer(t, repo)
	repo.err = errors.New("insert failed")

	resp, err := noRedirect().Get(srv.URL + "/click/link-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestHandleUnsubscribeFormDoesNotSuppress(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	sup := &fakeSuppressor{}
	srv := httptest.NewServer(NewHandler(NewRecorder(repo, sup, 0)).Routes())
	defer srv.Close()

	// a link scanner fetching the body link twice
	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/unsubscribe?token=tok-1")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		assert.Contains(t, string(body), `<form method="post"`)
		assert.Contains(t, string(body), `name="token" value="tok-1"`)
	}
	assert.Empty(t, sup.added)

	resp, err := http.Get(srv.URL + "/unsubscribe?token=%22%3E%3Cscript%3E")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.NotContains(t, string(body), "<script>")

	resp, err = http.Get(srv.URL + "/unsubscribe")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleUnsubscribeConfirmedForm(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	sup := &fakeSuppressor{}
	srv := httptest.NewServer(NewHandler(NewRecorder(repo, sup, 0)).Routes())
	defer srv.Close()

	resp, err := http.PostForm(srv.URL+"/unsubscribe?token=tok-1", url.Values{"token": {"tok-1"}, "confirm": {"1"}})
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "You have been unsubscribed")
	assert.Equal(t, []string{"org-1:email:jane@example.com"}, sup.added)
}

func TestHandleUnsubscribeOneClick(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	sup := &fakeSuppressor{}
	srv := httptest.NewServer(NewHandler(NewRecorder(repo, sup, 0)).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/unsubscribe?token=tok-1", "application/x-www-form-urlencoded",
		strings.NewReader("List-Unsubscribe=One-Click"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, []string{"org-1:email:jane@example.com"}, sup.added)

	resp, err = http.Post(srv.URL+"/unsubscribe?token=nope", "application/x-www-form-urlencoded",
		strings.NewReader("List-Unsubscribe=One-Click"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/unsubscribe", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	assert.Equal(t, "9.9.9.9", realIP(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-Ip", "8.8.8.8")
	assert.Equal(t, "8.8.8.8", realIP(r))
}

func TestDetectDevice(t *testing.T) {
	assert.Equal(t, "tablet", detectDevice("Mozilla/5.0 (iPad; CPU OS 17_0)"))
	assert.Equal(t, "mobile", detectDevice("Mozilla/5.0 (Linux; Android 14) Mobile"))
	assert.Equal(t, "desktop", detectDevice("Mozilla/5.0 (Windows NT 10.0)"))
	assert.Equal(t, "unknown", detectDevice(""))
}
