package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/photobooth/internal/booth"
	"github.com/fpang/photobooth/internal/frames"
	"github.com/fpang/photobooth/internal/retrieval"
	"github.com/fpang/photobooth/internal/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBooth records dispatched events and answers with a canned snapshot.
type fakeBooth struct {
	mu     sync.Mutex
	snap   booth.Snapshot
	events []booth.Event
	err    error
	subs   []chan booth.Snapshot
}

func (b *fakeBooth) Dispatch(_ context.Context, ev booth.Event) (booth.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	if b.err != nil {
		return booth.Snapshot{}, b.err
	}
	if ev.Type == booth.EventCaptureDone {
		b.snap.ImageCount++
		b.snap.Images = append(b.snap.Images, ev.Image)
	}
	return b.snap, nil
}

func (b *fakeBooth) Snapshot() booth.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

func (b *fakeBooth) Subscribe() (<-chan booth.Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan booth.Snapshot, 8)
	ch <- b.snap
	b.subs = append(b.subs, ch)
	return ch, func() {}
}

func (b *fakeBooth) publish(s booth.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = s
	for _, ch := range b.subs {
		ch <- s
	}
}

func (b *fakeBooth) dispatched() []booth.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]booth.Event(nil), b.events...)
}

func newTestServer(t *testing.T, b *fakeBooth, mutate ...func(*Config)) http.Handler {
	t.Helper()
	catalog, err := frames.DefaultCatalog()
	require.NoError(t, err)
	cfg := Config{
		Booth:   b,
		Catalog: catalog,
		Assets:  frames.PlaceholderSource{},
		Links:   retrieval.Links{BaseURL: "https://booth.example.com"},
		Version: "test",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg).Handler()
}

func do(h http.Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeBooth{snap: booth.Snapshot{State: booth.StateIdle}})
	rec := do(h, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, "test", body["version"])
}

func TestFrames(t *testing.T) {
	h := newTestServer(t, &fakeBooth{})

	rec := do(h, http.MethodGet, "/api/frames", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["frames"], 4)
	assert.Equal(t, "classic-vertical", body["defaultId"])

	rec = do(h, http.MethodGet, "/api/frames?orientation=horizontal", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["frames"], 2)

	rec = do(h, http.MethodGet, "/api/frames?orientation=diagonal", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFrameBackground(t *testing.T) {
	h := newTestServer(t, &fakeBooth{})

	rec := do(h, http.MethodGet, "/api/frames/classic-vertical/background", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = do(h, http.MethodGet, "/api/frames/nope/background", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession_IncludesRetrievalLinks(t *testing.T) {
	b := &fakeBooth{snap: booth.Snapshot{
		SessionID: "s1",
		State:     booth.StateSuccess,
		ResultURL: "https://cdn.example.com/strip.jpg",
		ResultID:  "abc",
	}}
	h := newTestServer(t, b)

	rec := do(h, http.MethodGet, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["state"])
	assert.Equal(t, "https://booth.example.com/photo/abc", body["retrievalUrl"])
	assert.Equal(t, "https://booth.example.com/photo/abc/qr.png", body["qrCodeUrl"])
	assert.NotContains(t, body, "Images")
}

func TestEvents(t *testing.T) {
	b := &fakeBooth{snap: booth.Snapshot{State: booth.StateCountdown, Countdown: 3}}
	h := newTestServer(t, b)

	rec := do(h, http.MethodPost, "/api/session/events", "application/json", []byte(`{"type":"start"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "countdown", decodeBody(t, rec)["state"])

	rec = do(h, http.MethodPost, "/api/session/events", "application/json",
		[]byte(`{"type":"SELECT_FRAME","frameId":"modern-horizontal"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	got := b.dispatched()
	require.Len(t, got, 2)
	assert.Equal(t, booth.EventStart, got[0].Type)
	assert.Equal(t, booth.EventSelectFrame, got[1].Type)
	assert.Equal(t, "modern-horizontal", got[1].FrameID)
}

func TestEvents_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{`, "invalid request body"},
		{"internal event", `{"type":"UPLOAD_DONE"}`, `unknown event type "UPLOAD_DONE"`},
		{"countdown done", `{"type":"COUNTDOWN_DONE"}`, `unknown event type "COUNTDOWN_DONE"`},
		{"unknown event", `{"type":"JUMP"}`, `unknown event type "JUMP"`},
		{"capture via events", `{"type":"CAPTURE_DONE"}`, "captures are posted to /api/session/capture"},
		{"unknown frame", `{"type":"SELECT_FRAME","frameId":"nope"}`, `unknown frame "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBooth{}
			h := newTestServer(t, b)
			rec := do(h, http.MethodPost, "/api/session/events", "application/json", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec)["error"])
			assert.Empty(t, b.dispatched())
		})
	}
}

func TestDispatchErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{booth.ErrEventNotHandled, http.StatusConflict},
		{booth.ErrInvalidEvent, http.StatusBadRequest},
		{booth.ErrNotRunning, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		b := &fakeBooth{snap: booth.Snapshot{State: booth.StateUploading}, err: tt.err}
		h := newTestServer(t, b)
		rec := do(h, http.MethodPost, "/api/session/events", "application/json", []byte(`{"type":"START"}`))
		assert.Equal(t, tt.code, rec.Code, "%v", tt.err)
	}

	b := &fakeBooth{snap: booth.Snapshot{State: booth.StateUploading}, err: booth.ErrEventNotHandled}
	rec := do(newTestServer(t, b), http.MethodPost, "/api/session/events", "application/json", []byte(`{"type":"START"}`))
	body := decodeBody(t, rec)
	assert.Equal(t, "START is not accepted in state uploading", body["error"])
	assert.Equal(t, "uploading", body["session"].(map[string]interface{})["state"])
}

func TestCapture_Formats(t *testing.T) {
	photo := testJPEG(t)
	encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(photo)
	jsonBody, err := json.Marshal(map[string]string{"image": encoded})
	require.NoError(t, err)

	tests := []struct {
		name        string
		contentType string
		body        []byte
	}{
		{"raw", "image/jpeg", photo},
		{"data url", "text/plain", []byte(encoded)},
		{"json", "application/json; charset=utf-8", jsonBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBooth{snap: booth.Snapshot{State: booth.StateCapture}}
			h := newTestServer(t, b)
			rec := do(h, http.MethodPost, "/api/session/capture", tt.contentType, tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.EqualValues(t, 1, decodeBody(t, rec)["imageCount"])

			got := b.dispatched()
			require.Len(t, got, 1)
			assert.Equal(t, booth.EventCaptureDone, got[0].Type)
			assert.Equal(t, photo, got[0].Image)
		})
	}
}

func TestCapture_Rejected(t *testing.T) {
	photo := testJPEG(t)
	tests := []struct {
		name  string
		body  []byte
		limit int64
		code  int
	}{
		{"empty", nil, 0, http.StatusBadRequest},
		{"not an image", []byte("hello there"), 0, http.StatusBadRequest},
		{"bad data url", []byte("data:image/jpeg;base64,%%%"), 0, http.StatusBadRequest},
		{"decoded too large", photo, int64(len(photo) - 1), http.StatusRequestEntityTooLarge},
		{"body too large", bytes.Repeat([]byte("a"), 4096), 64, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBooth{}
			h := newTestServer(t, b, func(c *Config) { c.MaxCaptureBytes = tt.limit })
			rec := do(h, http.MethodPost, "/api/session/capture", "image/jpeg", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Empty(t, b.dispatched())
		})
	}
}

func TestCaptureError(t *testing.T) {
	b := &fakeBooth{snap: booth.Snapshot{State: booth.StateFailure}}
	h := newTestServer(t, b)
	rec := do(h, http.MethodPost, "/api/session/capture-error", "application/json", []byte(`{"reason":"camera unplugged"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	got := b.dispatched()
	require.Len(t, got, 1)
	assert.Equal(t, booth.EventCaptureError, got[0].Type)
	assert.Equal(t, "camera unplugged", got[0].Reason)
}

func TestPhotoAndStrip(t *testing.T) {
	photo := testJPEG(t)
	b := &fakeBooth{snap: booth.Snapshot{State: booth.StateCheckProgress, Images: [][]byte{photo}}}
	h := newTestServer(t, b)

	rec := do(h, http.MethodGet, "/api/session/photos/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, photo, rec.Body.Bytes())

	rec = do(h, http.MethodGet, "/api/session/photos/1?thumb=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))

	for _, n := range []string{"0", "2", "x"} {
		assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/session/photos/"+n, "", nil).Code)
	}

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/session/strip", "", nil).Code)
	b.publish(booth.Snapshot{State: booth.StateSuccess, Artifact: photo, HasArtifact: true})
	rec = do(h, http.MethodGet, "/api/session/strip", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, photo, rec.Body.Bytes())
}

func TestRetrievalRoutesMounted(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.PutStrip(context.Background(), &store.Strip{
		ID:  "abc",
		URL: "https://cdn.example.com/abc.jpg",
	}))
	h := newTestServer(t, &fakeBooth{}, func(c *Config) {
		c.Retrieval = &retrieval.Handler{Store: st, Links: c.Links}
		c.OriginVerifySecret = "s3cret"
	})

	rec := do(h, http.MethodGet, "/photo/abc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, "retrieval pages skip origin verification")
	assert.Contains(t, rec.Body.String(), "https://booth.example.com/photo/abc/image")
}

func TestOriginVerify(t *testing.T) {
	h := newTestServer(t, &fakeBooth{}, func(c *Config) { c.OriginVerifySecret = "s3cret" })

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "", nil).Code)

	rec := do(h, http.MethodGet, "/api/session", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("x-origin-verify", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, &fakeBooth{}, func(c *Config) {
		c.AllowedOrigins = []string{"https://kiosk.example.com"}
	})

	for origin, allowed := range map[string]bool{
		"https://kiosk.example.com": true,
		"http://localhost:5173":     true,
		"https://evil.example.com":  false,
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/session/events", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		if allowed {
			assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
		} else {
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		}
	}
}

func TestCompression(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), bytes.Repeat([]byte("<p>kiosk</p>\n"), 512), 0o644))
	h := newTestServer(t, &fakeBooth{}, func(c *Config) { c.WebDir = dir })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestSPAFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>kiosk</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	h := newTestServer(t, &fakeBooth{}, func(c *Config) { c.WebDir = dir })

	rec := do(h, http.MethodGet, "/app.js", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")

	rec = do(h, http.MethodGet, "/review/strip", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kiosk")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestStream(t *testing.T) {
	b := &fakeBooth{snap: booth.Snapshot{State: booth.StateIdle}}
	srv := httptest.NewServer(newTestServer(t, b))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]interface{} {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, "idle", read()["state"])

	b.publish(booth.Snapshot{SessionID: "s1", State: booth.StateSuccess, ResultID: "abc", ResultURL: "https://cdn.example.com/abc.jpg"})
	msg := read()
	assert.Equal(t, "success", msg["state"])
	assert.Equal(t, "https://booth.example.com/photo/abc", msg["retrievalUrl"])
}
