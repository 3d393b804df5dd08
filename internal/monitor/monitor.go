// Package monitor streams connection events to WebSocket clients for live
// debugging. Every event is sent as one JSON text message. Clients may
// pass ?conn=<id> to follow a single connection.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/codewiresh/httpllm/internal/session"
)

const subscriberBuffer = 64

// Hub is a session.Sink that publishes events to monitor subscribers.
type Hub struct {
	events *Broadcaster
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{events: NewBroadcaster(), logger: logger}
}

// Record publishes ev. With no subscribers it costs one map lookup.
func (h *Hub) Record(ev session.Event) {
	if h.events.Len() == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.events.Send(ev.ConnID, data)
}

// Subscribers returns the number of connected monitor clients.
func (h *Hub) Subscribers() int { return h.events.Len() }

// Handler returns the HTTP handler serving /events.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.serveEvents)
	return mux
}

func (h *Hub) serveEvents(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept error", "err", err)
		return
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	sub := h.events.Subscribe(subscriberBuffer, r.URL.Query().Get("conn"))
	defer func() {
		h.events.Unsubscribe(sub)
		h.logger.Debug("monitor unsubscribed", "remote", r.RemoteAddr, "dropped", sub.Dropped())
	}()
	h.logger.Debug("monitor subscribed", "remote", r.RemoteAddr)

	// We never expect messages from the client; CloseRead handles control
	// frames and cancels ctx when the client goes away.
	ctx := wsConn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sub.C():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsConn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("monitor write failed", "err", err)
				return
			}
		}
	}
}

// Serve runs the monitor HTTP server on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}
	return h.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (h *Hub) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     h.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	slog.Info("monitor listening", "addr", ln.Addr().String())

	// Shut down gracefully when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor server: %w", err)
	}
	return nil
}
