package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatClient/pkg/chat"
	myMiddleware "chatClient/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// Server is the local view API a front end binds its screens to.
type Server struct {
	router    *chi.Mux
	session   *chat.Session
	verifier  myMiddleware.TokenVerifier
	publisher *Publisher
	hub       *Hub
	conf      ServerConfig
	log       *zap.Logger
}

// NewServer builds the view server. verifier may be nil, in which case
// requests are not authenticated.
func NewServer(router *chi.Mux, session *chat.Session, verifier myMiddleware.TokenVerifier, conf ServerConfig, logger *zap.Logger) *Server {
	publisher := NewPublisher(session, logger)
	hub := NewHub(publisher.Snapshot, logger)
	publisher.Attach(hub)
	return &Server{
		router:    router,
		session:   session,
		verifier:  verifier,
		publisher: publisher,
		hub:       hub,
		conf:      conf,
		log:       logger,
	}
}

// Start runs the hub and the view publisher until ctx ends.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx.Done())
	go s.publisher.Run(ctx)
}

func (s *Server) Run(ctx context.Context) error {
	// Server run context
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	s.Start(serverCtx)

	// run function that initializes the routes
	r := s.Routes()

	server := &http.Server{Addr: s.conf.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	// Listen for syscall signals for process to interrupt/quit
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-serverCtx.Done():
		}

		// Shutdown signal with grace period of 30 seconds
		shutdownCtx, cancelFunc := context.WithTimeout(context.Background(), 30*time.Second)

		// Cancels shutdownCtx if shutdown occurs before timeout
		defer cancelFunc()

		// Trigger graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("graceful shutdown failed", zap.Error(err))
			_ = server.Close()
		}
		serverStopCtx()
	}()

	s.log.Info("view server listening", zap.String("addr", s.conf.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-serverCtx.Done()
	return nil
}
