package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service composes the race gateway: WebSocket transport, the event router,
// and the optional JetStream mirror.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	router            *Router
	publisher         *JetStreamPublisher
}

// Config holds configuration for the race gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	RouterConfig     RouterConfig
	JetStreamConfig  JetStreamConfig
	EnableJetStream  bool
}

// DefaultConfig returns default configuration for the race gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConfig(),
	}
}

// NewService creates a new race gateway service.
func NewService(config Config, clock clockwork.Clock) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	var publisher *JetStreamPublisher
	var eventPublisher EventPublisher
	if config.EnableJetStream {
		p, err := NewJetStreamPublisher(config.JetStreamConfig)
		if err != nil {
			return nil, err
		}
		publisher = p
		eventPublisher = p
	}

	router := NewRouter(config.RouterConfig, clock, connectionManager, eventPublisher)
	connectionManager.SetHandler(router)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		router:            router,
		publisher:         publisher,
	}, nil
}

// Start begins the gateway service and blocks until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting race gateway service")

	go s.connectionManager.Start(ctx)
	go s.router.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("race gateway service shutting down")
	if s.publisher != nil {
		s.publisher.Close()
	}
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("race gateway routes registered")
}

// Router exposes the event router, mainly for tests and stats.
func (s *Service) Router() *Router {
	return s.router
}

// Stats returns statistics about the gateway service.
func (s *Service) Stats() map[string]any {
	stats := s.connectionManager.Stats()
	stats["live_sessions"] = s.router.Registry().Len()
	stats["queued_players"] = s.router.Queue().Len()
	return stats
}
