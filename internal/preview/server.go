// Package preview serves the live spectrogram to a browser. The raster is
// snapshotted on the drawing loop, encoded to PNG off it and pushed over a
// websocket.
package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/olivier-w/spectro/internal/params"
	"github.com/olivier-w/spectro/internal/raster"
	"github.com/olivier-w/spectro/internal/settings"
)

const galleryLimit = 50

// Gallery lists exported captures, newest first.
type Gallery interface {
	Captures(ctx context.Context, limit int) ([]settings.Entry, error)
}

// Server is a raster.FrameSink publishing throttled PNG snapshots.
type Server struct {
	logger   *slog.Logger
	params   *params.Store
	gallery  Gallery
	interval time.Duration
	now      func() time.Time

	hub      *hub
	pending  chan *image.RGBA
	upgrader websocket.Upgrader

	last time.Time // drawing loop only

	mu     sync.RWMutex
	latest []byte
}

// New returns a server pushing at most fps snapshots per second. gallery may
// be nil.
func New(p *params.Store, gallery Gallery, fps int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if fps <= 0 {
		fps = 10
	}
	return &Server{
		logger:   logger,
		params:   p,
		gallery:  gallery,
		interval: time.Second / time.Duration(fps),
		now:      time.Now,
		hub:      newHub(logger),
		pending:  make(chan *image.RGBA, 1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// OnFrame copies the raster when a snapshot is due. It never blocks.
func (s *Server) OnFrame(f raster.Frame) {
	if f.Raster == nil {
		return
	}
	now := s.now()
	if now.Sub(s.last) < s.interval {
		return
	}
	s.last = now

	img := image.NewRGBA(f.Raster.Rect)
	copy(img.Pix, f.Raster.Pix)
	select {
	case s.pending <- img:
	default:
		// encoder busy: replace the queued snapshot
		select {
		case <-s.pending:
		default:
		}
		select {
		case s.pending <- img:
		default:
		}
	}
}

// Latest returns the most recent encoded snapshot, or nil.
func (s *Server) Latest() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Run encodes queued snapshots and drives the websocket hub until ctx ends.
func (s *Server) Run(ctx context.Context) {
	go s.hub.run(ctx)
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	for {
		select {
		case <-ctx.Done():
			return
		case img := <-s.pending:
			buf.Reset()
			if err := enc.Encode(&buf, img); err != nil {
				s.logger.Warn("preview encode failed", "error", err)
				continue
			}
			out := bytes.Clone(buf.Bytes())
			s.mu.Lock()
			s.latest = out
			s.mu.Unlock()
			s.hub.publish(out)
		}
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/raster.png", s.handleRaster)
	r.Get("/params", s.handleParams)
	r.Get("/captures", s.handleCaptures)
	r.Get("/ws", s.handleWS)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go s.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("preview listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleRaster(w http.ResponseWriter, r *http.Request) {
	b := s.Latest()
	if b == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(b)
}

type paramsResponse struct {
	Orientation string             `json:"orientation"`
	FFTSize     int                `json:"fft_size"`
	Values      map[string]float64 `json:"values"`
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	resp := paramsResponse{
		Orientation: s.params.Orientation().String(),
		FFTSize:     s.params.FFTSize(),
		Values:      make(map[string]float64),
	}
	for name, v := range s.params.Snapshot() {
		resp.Values[string(name)] = v
	}
	writeJSON(w, resp)
}

type captureResponse struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	out := []captureResponse{}
	if s.gallery != nil {
		entries, err := s.gallery.Captures(r.Context(), galleryLimit)
		if err != nil {
			s.logger.Error("list captures failed", "error", err)
			http.Error(w, "gallery unavailable", http.StatusInternalServerError)
			return
		}
		for _, e := range entries {
			out = append(out, captureResponse{
				ID:         e.ID,
				Kind:       string(e.Kind),
				Path:       e.Path,
				Width:      e.Width,
				Height:     e.Height,
				DurationMS: e.Duration.Milliseconds(),
				CreatedAt:  e.CreatedAt,
			})
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("preview upgrade failed", "error", err)
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuf), remoteAddr: r.RemoteAddr}
	if b := s.Latest(); b != nil {
		c.send <- b
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>spectro</title>
<style>
body { margin: 0; background: #000; }
img { width: 100vw; height: 100vh; object-fit: fill; image-rendering: pixelated; }
</style>
</head>
<body>
<img id="raster" alt="">
<script>
const img = document.getElementById("raster");
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.binaryType = "blob";
  ws.onmessage = (ev) => {
    const url = URL.createObjectURL(ev.data);
    img.onload = () => URL.revokeObjectURL(url);
    img.src = url;
  };
  ws.onclose = () => setTimeout(connect, 1000);
}
connect();
</script>
</body>
</html>
`
