package models

import (
	"time"

	"github.com/google/uuid"
)

// Score represents one recorded race result.
type Score struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	WPM       float64   `json:"wpm"`
	Accuracy  float64   `json:"accuracy"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}
