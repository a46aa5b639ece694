package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/olivier-w/spectro/internal/params"
	"github.com/olivier-w/spectro/internal/raster"
	"github.com/olivier-w/spectro/internal/settings"
)

type fakeGallery struct {
	entries []settings.Entry
	err     error
}

func (g fakeGallery) Captures(ctx context.Context, limit int) ([]settings.Entry, error) {
	return g.entries, g.err
}

func testFrame(w, h int) raster.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return raster.Frame{Raster: img}
}

func waitLatest(t *testing.T, s *Server) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b := s.Latest(); b != nil {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for snapshot")
	return nil
}

func TestOnFrameThrottles(t *testing.T) {
	s := New(params.New(), nil, 10, nil)
	clock := time.Unix(1000, 0)
	s.now = func() time.Time { return clock }

	s.OnFrame(testFrame(4, 4))
	if len(s.pending) != 1 {
		t.Fatal("expected first frame to be queued")
	}
	<-s.pending

	clock = clock.Add(50 * time.Millisecond)
	s.OnFrame(testFrame(4, 4))
	if len(s.pending) != 0 {
		t.Fatal("frame inside the interval should be skipped")
	}

	clock = clock.Add(60 * time.Millisecond)
	s.OnFrame(testFrame(4, 4))
	if len(s.pending) != 1 {
		t.Fatal("expected frame after the interval to be queued")
	}
}

func TestOnFrameReplacesQueuedSnapshot(t *testing.T) {
	s := New(params.New(), nil, 1000, nil)
	clock := time.Unix(1000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	s.OnFrame(testFrame(2, 2))
	s.OnFrame(testFrame(8, 3))
	img := <-s.pending
	if img.Rect.Dx() != 8 {
		t.Fatalf("queued snapshot width = %d, want the newest (8)", img.Rect.Dx())
	}
}

func TestRasterEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(params.New(), nil, 60, nil)
	go s.Run(ctx)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raster.png", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status before first frame = %d", rec.Code)
	}

	s.OnFrame(testFrame(6, 5))
	waitLatest(t, s)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raster.png", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status = %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 6, 5) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
}

func TestParamsEndpoint(t *testing.T) {
	p := params.New()
	p.Set(params.Speed, 3)
	p.SetOrientation(params.Vertical)
	s := New(p, nil, 10, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/params", nil))

	var got paramsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Orientation != "vertical" || got.Values["speed"] != 3 || got.FFTSize != 8192 {
		t.Fatalf("params = %+v", got)
	}
}

func TestCapturesEndpoint(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	g := fakeGallery{entries: []settings.Entry{
		{ID: 2, Kind: settings.KindStream, Path: "b.mp4", Width: 80, Height: 60, Duration: 1500 * time.Millisecond, CreatedAt: at},
	}}
	s := New(params.New(), g, 10, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/captures", nil))
	var got []captureResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Path != "b.mp4" || got[0].DurationMS != 1500 || !got[0].CreatedAt.Equal(at) {
		t.Fatalf("captures = %+v", got)
	}

	s = New(params.New(), nil, 10, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/captures", nil))
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("empty gallery body = %q", body)
	}

	s = New(params.New(), fakeGallery{err: errors.New("locked")}, 10, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/captures", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestIndexPage(t *testing.T) {
	s := New(params.New(), nil, 10, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "/ws") {
		t.Fatal("index page should open the websocket")
	}
}

func TestWebsocketReceivesSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(params.New(), nil, 1000, nil)
	go s.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.OnFrame(testFrame(3, 3))
	first := waitLatest(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage || !bytes.Equal(msg, first) {
		t.Fatal("expected the latest snapshot on connect")
	}

	// Wait until the hub has registered the client before publishing.
	deadline := time.Now().Add(5 * time.Second)
	for s.hub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(2 * time.Millisecond)
	s.OnFrame(testFrame(7, 2))

	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 7 {
		t.Fatalf("pushed snapshot width = %d, want 7", img.Bounds().Dx())
	}
}
