package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/typerace/go/internal/race/gateway"
	"github.com/mcdev12/typerace/go/internal/scores"
)

type Services struct {
	Gateway        *gateway.Service
	Scores         *scores.Service
	ScoresConsumer *scores.EventConsumer
}

func setupServices(ctx context.Context, config *Config, pool *pgxpool.Pool) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer

	// Scores
	scoresRepo := scores.NewRepository(pool)
	if err := scoresRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure scores schema: %w", err)
	}
	scoresApp := scores.NewApp(scoresRepo)
	scoresService := scores.NewService(scoresApp)

	// Race gateway
	gatewayConfig := gateway.DefaultConfig()
	if config.Race.CountdownSeconds > 0 {
		gatewayConfig.RouterConfig.Countdown = time.Duration(config.Race.CountdownSeconds) * time.Second
	}
	gatewayConfig.RouterConfig.RaceTexts = config.Race.Texts
	if config.NATS.Enabled {
		gatewayConfig.EnableJetStream = true
		if config.NATS.URL != "" {
			gatewayConfig.JetStreamConfig.URL = config.NATS.URL
		}
	}

	raceGateway, err := gateway.NewService(gatewayConfig, clockwork.NewRealClock())
	if err != nil {
		return nil, fmt.Errorf("failed to create race gateway: %w", err)
	}

	// Result-recording consumer rides on the same stream the gateway publishes to.
	var consumer *scores.EventConsumer
	if config.NATS.Enabled {
		consumerConfig := scores.DefaultJetStreamConsumerConfig()
		if config.NATS.URL != "" {
			consumerConfig.URL = config.NATS.URL
		}
		consumer, err = scores.NewEventConsumer(scoresApp, consumerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create scores consumer: %w", err)
		}
	}

	return &Services{
		Gateway:        raceGateway,
		Scores:         scoresService,
		ScoresConsumer: consumer,
	}, nil
}
