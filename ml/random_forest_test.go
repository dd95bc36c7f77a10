package ml

import (
	"context"
	"errors"
	"testing"
)

func blobs() ([][]float64, []int) {
	var features [][]float64
	var labels []int
	for i := 0; i < 20; i++ {
		offset := float64(i%5) * 0.1
		features = append(features, []float64{1 + offset, 1 - offset, 0.5})
		labels = append(labels, 0)
		features = append(features, []float64{5 + offset, 5 - offset, 0.5})
		labels = append(labels, 1)
		features = append(features, []float64{1 + offset, 9 - offset, 0.5})
		labels = append(labels, 2)
	}
	return features, labels
}

func TestRandomForestSeparatesBlobs(t *testing.T) {
	features, labels := blobs()

	forest := NewRandomForest(WithNEstimators(15), WithSeed(7))
	if err := forest.Fit(context.Background(), features, labels, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forest.Trees) != 15 {
		t.Fatalf("expected 15 trees, got %d", len(forest.Trees))
	}
	if acc := Accuracy(forest, features, labels); acc < 0.99 {
		t.Fatalf("expected near perfect training accuracy, got %f", acc)
	}

	probs, err := forest.Proba([]float64{5, 5, 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("expected probabilities to sum to 1, got %f", sum)
	}
}

func TestRandomForestSeedIsDeterministic(t *testing.T) {
	features, labels := blobs()
	query := []float64{3, 5, 0.5}

	var first int
	for i := 0; i < 3; i++ {
		forest := NewRandomForest(WithNEstimators(9), WithSeed(42))
		if err := forest.Fit(context.Background(), features, labels, 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		label, _, err := forest.Predict(query)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if i == 0 {
			first = label
		} else if label != first {
			t.Fatalf("expected deterministic prediction %d, got %d", first, label)
		}
	}
}

func TestRandomForestRejectsWrongWidth(t *testing.T) {
	features, labels := blobs()
	forest := NewRandomForest(WithNEstimators(3), WithSeed(1))
	if err := forest.Fit(context.Background(), features, labels, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := forest.Predict([]float64{1, 2}); err == nil {
		t.Fatal("expected feature count error")
	}
}

func TestRandomForestFitHonoursCancel(t *testing.T) {
	features, labels := blobs()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	forest := NewRandomForest(WithNEstimators(5))
	err := forest.Fit(ctx, features, labels, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(forest.Trees) != 0 {
		t.Fatal("expected no trees after cancel")
	}
}
