package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB records training runs and served predictions.
type DB struct {
	database *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_id TEXT NOT NULL UNIQUE,
        source TEXT,
        rows INTEGER NOT NULL,
        features INTEGER NOT NULL,
        classes TEXT NOT NULL,
        trees INTEGER NOT NULL,
        accuracy REAL,
        duration_ms INTEGER NOT NULL,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_id TEXT NOT NULL,
        query TEXT NOT NULL,
        predicted_label TEXT NOT NULL,
        confidence REAL,
        timestamp DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_model ON predictions(model_id);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &DB{database: database}, nil
}

func (d *DB) Close() error {
	return d.database.Close()
}

type TrainingLog struct {
	ModelID    string    `json:"model_id"`
	Source     string    `json:"source"`
	Rows       int       `json:"rows"`
	Features   int       `json:"features"`
	Classes    []string  `json:"classes"`
	Trees      int       `json:"trees"`
	Accuracy   *float64  `json:"holdout_accuracy,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	TrainedAt  time.Time `json:"trained_at"`
}

func (d *DB) SaveTrainingLog(ctx context.Context, entry TrainingLog) error {
	var accuracy sql.NullFloat64
	if entry.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *entry.Accuracy, Valid: true}
	}
	_, err := d.database.ExecContext(ctx, `
        INSERT OR REPLACE INTO training_log (
            model_id, source, rows, features, classes, trees, accuracy, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		entry.ModelID,
		entry.Source,
		entry.Rows,
		entry.Features,
		strings.Join(entry.Classes, "\x1f"),
		entry.Trees,
		accuracy,
		entry.DurationMS,
		entry.TrainedAt.UTC(),
	)
	return err
}

// LoadTrainingLog returns the newest entries first.
func (d *DB) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.database.QueryContext(ctx, `
        SELECT model_id, source, rows, features, classes, trees, accuracy, duration_ms, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var source sql.NullString
		var classes string
		var accuracy sql.NullFloat64
		if err := rows.Scan(&log.ModelID, &source, &log.Rows, &log.Features, &classes, &log.Trees, &accuracy, &log.DurationMS, &log.TrainedAt); err != nil {
			return nil, err
		}
		log.Source = source.String
		if classes != "" {
			log.Classes = strings.Split(classes, "\x1f")
		}
		if accuracy.Valid {
			value := accuracy.Float64
			log.Accuracy = &value
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type Prediction struct {
	ModelID    string
	Query      string
	Label      string
	Confidence float64
	Timestamp  time.Time
}

func (d *DB) SavePrediction(ctx context.Context, p Prediction) error {
	if p.ModelID == "" {
		return errors.New("model id required")
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	_, err := d.database.ExecContext(ctx, `
        INSERT INTO predictions (model_id, query, predicted_label, confidence, timestamp)
        VALUES (?, ?, ?, ?, ?)
    `, p.ModelID, p.Query, p.Label, p.Confidence, p.Timestamp.UTC())
	return err
}

// CountPredictions returns how many predictions were served by modelID.
func (d *DB) CountPredictions(ctx context.Context, modelID string) (int, error) {
	var n int
	err := d.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions WHERE model_id = ?`, modelID).Scan(&n)
	return n, err
}
