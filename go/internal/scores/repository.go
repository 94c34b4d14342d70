package scores

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mcdev12/typerace/go/internal/models"
)

// DB defines what the repository needs from the database layer. *pgxpool.Pool
// satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements score data access operations.
type Repository struct {
	db DB
}

// NewRepository creates a new scores repository.
func NewRepository(db DB) *Repository {
	return &Repository{
		db: db,
	}
}

// EnsureSchema creates the scores table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS scores (
			id         UUID PRIMARY KEY,
			username   TEXT NOT NULL,
			wpm        DOUBLE PRECISION NOT NULL,
			accuracy   DOUBLE PRECISION NOT NULL,
			language   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create scores table: %w", err)
	}
	return nil
}

// CreateScore records one race result.
func (r *Repository) CreateScore(ctx context.Context, score models.Score) (*models.Score, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO scores (id, username, wpm, accuracy, language)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, wpm, accuracy, language, created_at`,
		score.ID, score.Username, score.WPM, score.Accuracy, score.Language,
	)

	var out models.Score
	if err := row.Scan(&out.ID, &out.Username, &out.WPM, &out.Accuracy, &out.Language, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create score: %w", err)
	}
	return &out, nil
}

// TopScores returns the n best results ordered by WPM descending.
func (r *Repository) TopScores(ctx context.Context, n int) ([]models.Score, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, username, wpm, accuracy, language, created_at
		FROM scores
		ORDER BY wpm DESC, created_at ASC
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query top scores: %w", err)
	}
	defer rows.Close()

	var out []models.Score
	for rows.Next() {
		var s models.Score
		if err := rows.Scan(&s.ID, &s.Username, &s.WPM, &s.Accuracy, &s.Language, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read top scores: %w", err)
	}
	return out, nil
}
