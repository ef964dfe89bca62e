package directory

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/viewer"
)

var viewerSecret = []byte("viewer-secret")

func newTestServer(t *testing.T, f PoolFetcher) (*httptest.Server, *Service) {
	t.Helper()
	svc, _ := newTestService(t, f)
	h := NewHandler(svc, viewer.NewHMACVerifier(viewerSecret, ""), nil)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /directory/sessions", h.Open)
	mux.HandleFunc("GET /directory/sessions/{id}", h.Get)
	mux.HandleFunc("DELETE /directory/sessions/{id}", h.Close)
	mux.HandleFunc("POST /directory/sessions/{id}/refresh", h.Refresh)
	mux.HandleFunc("GET /directory/sessions/{id}/events", h.Events)
	srv := httptest.NewServer(mux)
	// shut sessions down first so open event streams end
	t.Cleanup(func() {
		svc.Shutdown()
		srv.Close()
	})
	return srv, svc
}

func do(t *testing.T, method, url, body, token string) (*http.Response, SessionResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out SessionResponse
	if resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func openSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, out := do(t, http.MethodPost, srv.URL+"/directory/sessions", `{"locale":"en"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, out.SessionID)
	assert.False(t, out.ViewerConnected)
	return out.SessionID
}

func TestHandlerSessionLifecycle(t *testing.T) {
	f := &fakeFetcher{}
	f.push(makePool(25), nil)
	srv, _ := newTestServer(t, f)
	id := openSession(t, srv)
	url := srv.URL + "/directory/sessions/" + id

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(viewerSecret)
	require.NoError(t, err)

	var snap SessionResponse
	require.Eventually(t, func() bool {
		_, snap = do(t, http.MethodGet, url, "", token)
		return !snap.Loading
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, snap.ViewerConnected)
	assert.Len(t, snap.Window, 20)
	assert.Equal(t, 25, snap.Stats.Total)
	assert.True(t, snap.Armed)

	resp, snap := do(t, http.MethodPost, url+"/refresh", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, snap.Window, 20)

	resp, _ = do(t, http.MethodDelete, url, "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, url, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerRefreshFailureKeepsWindow(t *testing.T) {
	f := &fakeFetcher{}
	f.push(makePool(10), nil)
	f.push(nil, &FetchError{})
	srv, _ := newTestServer(t, f)
	id := openSession(t, srv)
	url := srv.URL + "/directory/sessions/" + id

	require.Eventually(t, func() bool {
		_, snap := do(t, http.MethodGet, url, "", "")
		return len(snap.Window) == 10
	}, 2*time.Second, 20*time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, url+"/refresh", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var snap SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Len(t, snap.Window, 10)
	assert.NotEmpty(t, snap.Error)
}

func TestHandlerErrors(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp, _ := do(t, http.MethodGet, srv.URL+"/directory/sessions/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/directory/sessions/nope/refresh", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, srv.URL+"/directory/sessions/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/directory/sessions", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestHandlerEventStream(t *testing.T) {
	f := &fakeFetcher{}
	f.push(makePool(5), nil)
	srv, _ := newTestServer(t, f)
	id := openSession(t, srv)

	resp, err := http.Get(srv.URL + "/directory/sessions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended before window event")
			if line == "event: window" {
				data := <-lines
				require.True(t, strings.HasPrefix(data, "data: "))
				var ev Event
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &ev))
				assert.Equal(t, EventWindow, ev.Kind)
				return
			}
		case <-deadline:
			t.Fatal("no window event on stream")
		}
	}
}

func TestHandlerSingleEventStream(t *testing.T) {
	f := &fakeFetcher{}
	f.push(makePool(5), nil)
	srv, _ := newTestServer(t, f)
	url := srv.URL + "/directory/sessions/" + openSession(t, srv) + "/events"

	first, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(url)
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	first.Body.Close()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHandlerWindowCarriesProfilePath(t *testing.T) {
	n := NewNormalizer(nil, nil, DefaultConfig(), nil)
	pool := n.NormalizeAll(context.Background(), []entity.Record{
		record("l1", nil),
		record("e1", map[string]any{"type": "expat", "slug": "jean-dupont-e1"}),
	}, "fr")
	require.Len(t, pool, 2)
	f := &fakeFetcher{}
	f.push(pool, nil)
	srv, _ := newTestServer(t, f)
	url := srv.URL + "/directory/sessions/" + openSession(t, srv)

	var snap SessionResponse
	require.Eventually(t, func() bool {
		_, snap = do(t, http.MethodGet, url, "", "")
		return len(snap.Window) == 2
	}, 2*time.Second, 20*time.Millisecond)
	paths := map[string]string{}
	for _, p := range snap.Window {
		paths[p.ID] = p.ProfilePath
	}
	assert.Equal(t, map[string]string{
		"l1": "/avocat/jean-d--l1",
		"e1": "/expatrie/jean-dupont-e1",
	}, paths)
}
