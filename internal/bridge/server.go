// Package bridge exposes the sync core to a local view over a POST JSON api and a websocket update stream
package bridge

import (
	"chatsync/internal/chat"
	"context"
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"net"
	"net/http"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Deps are the components served by the bridge; Presence, Unread and Gatherer may be nil
type Deps struct {
	Client   *chat.Client
	Presence Presence
	Unread   Unread
	Network  Network
	Cache    CacheClearer
	Gatherer prometheus.Gatherer
}

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer returns new Server serving deps
func NewServer(logger *zap.SugaredLogger, deps Deps, opts ...Option) (*Server, error) {
	if deps.Client == nil || deps.Network == nil || deps.Cache == nil {
		return nil, errors.New("bridge needs a client, a network monitor and a cache")
	}

	h := &handler{
		logger:   logger,
		client:   deps.Client,
		presence: deps.Presence,
		unread:   deps.Unread,
		network:  deps.Network,
		cache:    deps.Cache,
		now:      time.Now,
	}

	cfg := &config{
		httpServer: &http.Server{Addr: "127.0.0.1:9000"},
		handlers: map[string]http.Handler{
			"/channels/get":    http.HandlerFunc(h.channels),
			"/channels/switch": http.HandlerFunc(h.switchChannel),
			"/messages/get":    http.HandlerFunc(h.messages),
			"/messages/send":   http.HandlerFunc(h.send),
			"/messages/older":  http.HandlerFunc(h.older),
			"/messages/retry":  http.HandlerFunc(h.retry),
			"/dm/open":         http.HandlerFunc(h.openDirect),
			"/presence/get":    http.HandlerFunc(h.roster),
			"/unread/get":      http.HandlerFunc(h.unreadCounts),
			"/unread/read":     http.HandlerFunc(h.markRead),
			"/cache/clear":     http.HandlerFunc(h.clearCache),
			"/network/set":     http.HandlerFunc(h.setNetwork),
		},
		streams: map[string]http.Handler{
			"/ws": &streamer{logger: logger, client: deps.Client},
		},
	}
	if deps.Gatherer != nil {
		cfg.streams["/metrics"] = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	}

	// user options first so that TimeoutHandler wraps the bare handlers
	for _, o := range opts {
		o.apply(cfg)
	}
	for _, o := range []Option{applyEnforcePOSTJSON(), applyLog(logger.Desugar()), registerHandlers()} {
		o.apply(cfg)
	}

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and shuts it down gracefully once ctx is done
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	idleConnsClosed := make(chan struct{})

	go func() {
		<-ctx.Done()

		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", l.Addr())
	if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("s.httpServer.Serve: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
