package debug

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/oplog/internal/model"
)

// Path is the WebSocket endpoint of the debug server.
const Path = "/v1/debugger"

// Server exposes a Debugger as JSON-RPC over WebSocket. Each connection owns
// at most one debug session, terminated when the connection closes.
type Server struct {
	debugger *Debugger
	env      model.EnvironmentID
	upgrader websocket.Upgrader
	srv      *http.Server
	lis      net.Listener
}

// NewServer creates a server. env is used for connect calls that name no
// environment.
func NewServer(debugger *Debugger, env model.EnvironmentID) *Server {
	mux := http.NewServeMux()
	s := &Server{
		debugger: debugger,
		env:      env,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc(Path, s.handleDebugger)
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	slog.Info("debug server listening", "addr", l.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close stops accepting connections.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleDebugger(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("debug connection upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := &session{debugger: s.debugger, env: s.env}
	defer sess.close()

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("debug connection closed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		resp := sess.handle(ctx, data)
		if err := conn.WriteJSON(resp); err != nil {
			slog.Debug("debug connection write failed", "error", err)
			return
		}
	}
}
