package present

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/talkreel/internal/input"
	"github.com/MrWong99/talkreel/internal/observe"
)

// writeTimeout bounds a single websocket write to a slow client.
const writeTimeout = 5 * time.Second

// Preview serves the surface over HTTP:
//
//	GET /frame.png  current frame as PNG (503 before the first frame)
//	GET /ws         websocket pushing {"seq":n} on every present; a text
//	                message "quit" stops playback
type Preview struct {
	surface *Surface
	events  *input.Queue
	metrics *observe.Metrics
	log     *slog.Logger
	accept  *websocket.AcceptOptions
}

// PreviewOption configures a [Preview].
type PreviewOption func(*Preview)

// WithPreviewMetrics records connected clients on m.
func WithPreviewMetrics(m *observe.Metrics) PreviewOption {
	return func(p *Preview) { p.metrics = m }
}

// WithPreviewLogger sets the logger. Defaults to [slog.Default].
func WithPreviewLogger(l *slog.Logger) PreviewOption {
	return func(p *Preview) {
		if l != nil {
			p.log = l
		}
	}
}

// WithOriginPatterns allows cross-origin websocket connections from hosts
// matching patterns.
func WithOriginPatterns(patterns ...string) PreviewOption {
	return func(p *Preview) { p.accept.OriginPatterns = patterns }
}

// NewPreview creates a preview of s. Quit messages are pushed to events.
func NewPreview(s *Surface, events *input.Queue, opts ...PreviewOption) *Preview {
	p := &Preview{
		surface: s,
		events:  events,
		log:     slog.Default(),
		accept:  &websocket.AcceptOptions{},
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("component", "preview")
	return p
}

// Routes mounts the preview handlers on r.
func (p *Preview) Routes(r chi.Router) {
	r.Get("/frame.png", p.handleFrame)
	r.Get("/ws", p.handleWS)
}

func (p *Preview) handleFrame(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	seq, err := p.surface.EncodePNG(&buf)
	if errors.Is(err, ErrNoFrame) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		p.log.Error("encode frame", "err", err)
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
	_, _ = w.Write(buf.Bytes())
}

// seqMessage is pushed to websocket clients.
type seqMessage struct {
	Seq uint64 `json:"seq"`
}

func (p *Preview) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, p.accept)
	if err != nil {
		p.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if p.metrics != nil {
		p.metrics.PreviewClients.Add(ctx, 1)
		defer p.metrics.PreviewClients.Add(context.Background(), -1)
	}
	p.log.Debug("preview client connected", "remote", r.RemoteAddr)

	go p.readLoop(ctx, cancel, conn)

	err = p.pushLoop(ctx, conn)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
	default:
		p.log.Debug("preview client dropped", "err", err)
	}
}

// readLoop turns client messages into input events. It cancels ctx when the
// client goes away.
func (p *Preview) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(data)), "quit") {
			p.log.Info("quit requested by preview client")
			p.events.Push(input.Event{Type: input.Quit, Source: "preview"})
		}
	}
}

// pushLoop sends the current sequence number, then one message per present.
// Presents that happen while a write is in flight are coalesced.
func (p *Preview) pushLoop(ctx context.Context, conn *websocket.Conn) error {
	var last uint64
	sent := false
	for {
		changed := p.surface.Changed()
		seq := p.surface.Seq()
		if !sent || seq != last {
			if err := p.write(ctx, conn, seq); err != nil {
				return err
			}
			last, sent = seq, true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (p *Preview) write(ctx context.Context, conn *websocket.Conn, seq uint64) error {
	data, err := json.Marshal(seqMessage{Seq: seq})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
