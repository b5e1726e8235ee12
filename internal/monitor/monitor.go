// Package monitor implements the Link Monitor (SPEC_FULL.md §8): a small local
// HTTP+WebSocket server, off by default, that streams dispatcher command traces and
// attach-state transitions for an operator watching the link from a browser. It is
// read-only — it cannot inject commands, upload scripts, or otherwise drive the link,
// so it does not reintroduce the multi-host support spec.md's Non-goals exclude.
package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/usbdbg/dbglinkd/internal/dispatch"
)

//go:embed static/*
var staticFiles embed.FS

// Event is one JSON message pushed down the /ws stream.
type Event struct {
	Cmd       string    `json:"cmd"`
	Length    uint32    `json:"length"`
	Attached  *bool     `json:"attached,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Server is the Link Monitor's HTTP server.
type Server struct {
	addr string

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewServer returns a Server that will listen on addr once Run is called.
func NewServer(addr string) *Server {
	return &Server{addr: addr, subs: make(map[chan Event]struct{})}
}

// Trace satisfies the callback shape dispatch.Dispatcher.OnTrace expects, publishing
// every dispatched command to connected monitor clients.
func (s *Server) Trace(t dispatch.Trace) {
	s.publish(Event{Cmd: t.Name, Length: t.Length, Timestamp: time.Now()})
}

// TraceAttach publishes an attach-state transition.
func (s *Server) TraceAttach(attached bool) {
	s.publish(Event{Cmd: "ATTACH_STATE", Attached: &attached, Timestamp: time.Now()})
}

func (s *Server) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop the event rather than block command dispatch.
		}
	}
}

func (s *Server) subscribe() chan Event {
	ch := make(chan Event, 32)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Event) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
	close(ch)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("monitor: accept websocket: %v", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("monitor: encode event: %v", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				log.Printf("monitor: write websocket: %v", err)
				return
			}
		}
	}
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("monitor: static file system: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", s.handleWebSocket)

	srv := &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("monitor: listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
