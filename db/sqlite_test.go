package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestTrainingLogRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	accuracy := 0.75
	older := TrainingLog{ModelID: "a", Source: "first.csv", Rows: 10, Features: 2, Classes: []string{"0", "1"}, Trees: 100, Accuracy: &accuracy, DurationMS: 12, TrainedAt: time.Now().Add(-time.Hour)}
	newer := TrainingLog{ModelID: "b", Source: "second.csv", Rows: 2, Features: 3, Classes: []string{"cat"}, Trees: 100, DurationMS: 3, TrainedAt: time.Now()}
	for _, entry := range []TrainingLog{older, newer} {
		if err := database.SaveTrainingLog(ctx, entry); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	logs, err := database.LoadTrainingLog(ctx, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].ModelID != "b" || logs[0].Accuracy != nil {
		t.Fatalf("unexpected newest entry: %+v", logs[0])
	}
	if logs[1].Accuracy == nil || *logs[1].Accuracy != 0.75 {
		t.Fatalf("expected accuracy 0.75, got %+v", logs[1])
	}
	if len(logs[1].Classes) != 2 || logs[1].Classes[1] != "1" {
		t.Fatalf("unexpected classes: %v", logs[1].Classes)
	}

	limited, err := database.LoadTrainingLog(ctx, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestSavePrediction(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	if err := database.SavePrediction(ctx, Prediction{Query: "1,2", Label: "0"}); err == nil {
		t.Fatal("expected error without model id")
	}
	for i := 0; i < 3; i++ {
		if err := database.SavePrediction(ctx, Prediction{ModelID: "m", Query: "1,2", Label: "0", Confidence: 0.9}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	n, err := database.CountPredictions(ctx, "m")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 predictions, got %d", n)
	}
}
