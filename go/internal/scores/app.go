package scores

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mcdev12/typerace/go/internal/models"
)

const (
	defaultTopN = 10
	maxTopN     = 100
)

// ScoreRepository defines what the app layer needs from the repository.
type ScoreRepository interface {
	CreateScore(ctx context.Context, score models.Score) (*models.Score, error)
	TopScores(ctx context.Context, n int) ([]models.Score, error)
}

// CreateScoreRequest is an incoming result to record.
type CreateScoreRequest struct {
	Username string  `json:"username"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
	Language string  `json:"language"`
}

// App handles score business logic.
type App struct {
	repo ScoreRepository
}

// NewApp creates a new scores App.
func NewApp(repo ScoreRepository) *App {
	return &App{
		repo: repo,
	}
}

// RecordScore validates and stores one race result.
func (a *App) RecordScore(ctx context.Context, req CreateScoreRequest) (*models.Score, error) {
	if err := a.validateCreateScore(req); err != nil {
		return nil, err
	}

	language := req.Language
	if language == "" {
		language = "en"
	}

	return a.repo.CreateScore(ctx, models.Score{
		ID:       uuid.New(),
		Username: strings.TrimSpace(req.Username),
		WPM:      req.WPM,
		Accuracy: req.Accuracy,
		Language: language,
	})
}

// TopScores returns the best n results by WPM descending. n defaults to 10
// and is capped at 100.
func (a *App) TopScores(ctx context.Context, n int) ([]models.Score, error) {
	if n <= 0 {
		n = defaultTopN
	}
	if n > maxTopN {
		n = maxTopN
	}
	return a.repo.TopScores(ctx, n)
}

func (a *App) validateCreateScore(req CreateScoreRequest) error {
	if strings.TrimSpace(req.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if req.WPM <= 0 {
		return fmt.Errorf("wpm must be positive, got %v", req.WPM)
	}
	if req.Accuracy < 0 || req.Accuracy > 100 {
		return fmt.Errorf("accuracy must be between 0 and 100, got %v", req.Accuracy)
	}
	return nil
}
