package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codewiresh/httpllm/internal/config"
	"github.com/codewiresh/httpllm/internal/connection"
	"github.com/codewiresh/httpllm/internal/logsink"
	"github.com/codewiresh/httpllm/internal/monitor"
	"github.com/codewiresh/httpllm/internal/responder"
	"github.com/codewiresh/httpllm/internal/session"
	"github.com/codewiresh/httpllm/internal/store"
)

// Node is the server daemon. It accepts TCP connections and runs one
// session per connection, optionally archiving transcripts and publishing
// events to a monitor.
type Node struct {
	config    *config.Config
	responder responder.Responder
	logger    *slog.Logger

	store    *store.SQLiteStore
	recorder *store.Recorder
	hub      *monitor.Hub

	wg     sync.WaitGroup
	active atomic.Int64
}

// NewNode creates a Node from cfg. When r is nil an Anthropic responder is
// built from cfg. The transcript database is opened here if configured.
func NewNode(cfg *config.Config, r responder.Responder) (*Node, error) {
	if r == nil {
		r = newAnthropic(cfg)
	}
	n := &Node{
		config:    cfg,
		responder: r,
		logger:    slog.Default(),
	}

	if cfg.TranscriptDB != "" {
		st, err := store.NewSQLiteStore(cfg.TranscriptDB, cfg.TranscriptRetention)
		if err != nil {
			return nil, fmt.Errorf("opening transcript db: %w", err)
		}
		n.store = st
		n.recorder = store.NewRecorder(st, n.logger)
		slog.Info("archiving transcripts", "path", cfg.TranscriptDB)
	}
	if cfg.MonitorListen != "" {
		n.hub = monitor.NewHub(n.logger)
	}
	return n, nil
}

func newAnthropic(cfg *config.Config) *responder.Anthropic {
	system := responder.SystemPrompt(responder.PromptInfo{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Model:      cfg.Model,
		ServerName: cfg.ServerName,
	})
	a := responder.NewAnthropic(cfg.APIKey, cfg.Model, system)
	if cfg.APIURL != "" {
		a.BaseURL = cfg.APIURL
	}
	if cfg.MaxTokens > 0 {
		a.MaxTokens = cfg.MaxTokens
	}
	return a
}

// Run listens on the configured address and serves until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.config.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", n.config.Addr(), err)
	}
	return n.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// open connections to wind down.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("listening", "addr", ln.Addr().String(), "model", n.config.Model)
	defer n.Cleanup()

	if n.hub != nil {
		addr := n.config.MonitorListen
		go func() {
			if err := n.hub.Serve(ctx, addr); err != nil {
				slog.Error("monitor server error", "err", err)
			}
		}()
	}

	// Close the listener when ctx is cancelled so Accept unblocks.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	// Accept loop.
	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			// Check if we were shut down.
			select {
			case <-ctx.Done():
				n.wg.Wait()
				return ctx.Err()
			default:
			}
			slog.Error("accept error", "err", acceptErr)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		n.wg.Add(1)
		go n.serveConn(ctx, conn)
	}
}

// Active returns the number of open connections.
func (n *Node) Active() int { return int(n.active.Load()) }

// Cleanup flushes the transcript archive and closes the database.
func (n *Node) Cleanup() {
	if n.recorder != nil {
		n.recorder.Close()
	}
	if n.store != nil {
		_ = n.store.Close()
	}
}

func (n *Node) sinks(id, peer string) (session.Sinks, func()) {
	var sinks session.Sinks
	if n.recorder != nil {
		sinks = append(sinks, n.recorder)
	}
	if n.hub != nil {
		sinks = append(sinks, n.hub)
	}
	if n.config.LogDir == "" {
		return sinks, func() {}
	}
	f, err := logsink.Open(n.config.LogDir, id, peer)
	if err != nil {
		n.logger.Debug("connection log unavailable", "conn", id, "err", err)
		return sinks, func() {}
	}
	return append(sinks, f), func() { _ = f.Close() }
}

// serveConn runs the event loop of one connection. The session is only
// touched from this goroutine.
func (n *Node) serveConn(ctx context.Context, conn net.Conn) {
	defer n.wg.Done()
	n.active.Add(1)
	defer n.active.Add(-1)

	id := uuid.NewString()
	peer := conn.RemoteAddr().String()
	sock := connection.NewTCPSocket(conn, n.config.WriteBuffer)
	defer sock.Destroy()

	sinks, closeLog := n.sinks(id, peer)
	defer closeLog()

	s := session.New(ctx, sock, n.responder, session.Options{
		ID:           id,
		Peer:         peer,
		HistoryLimit: n.config.HistoryLimit,
		Timeout:      n.config.ResponderTimeout,
		Sink:         sinks,
		Logger:       n.logger,
	})

	reads := sock.ReadLoop(0)
	for !s.Done() {
		select {
		case chunk, ok := <-reads:
			if !ok {
				reads = nil
				s.OnClose()
				continue
			}
			s.OnData(chunk)
		case <-sock.Writable():
			s.OnWritable()
		case r := <-s.Replies():
			s.OnReply(r)
		case <-ctx.Done():
			s.OnClose()
		}
	}

	if reads == nil || ctx.Err() != nil {
		return
	}
	// The session closed its side. Let the socket send what it accepted,
	// then read until the peer hangs up so that unread input does not turn
	// into a reset that discards the response.
	linger := time.NewTimer(2 * connection.DefaultLinger)
	defer linger.Stop()
	select {
	case <-sock.Done():
	case <-linger.C:
		return
	case <-ctx.Done():
		return
	}
	for {
		select {
		case _, ok := <-reads:
			if !ok {
				return
			}
		case <-linger.C:
			return
		case <-ctx.Done():
			return
		}
	}
}
