package ml

import "testing"

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 1, 1}

	model := NewDecisionTree(WithTreeMaxDepth(2))
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, confidence, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	if confidence != 1 {
		t.Fatalf("expected pure leaf, got confidence %f", confidence)
	}
	label, _, err = model.Predict([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}
}

func TestDecisionTreeFitsXOR(t *testing.T) {
	features := [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	labels := []int{0, 1, 1, 0}

	model := NewDecisionTree()
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range features {
		label, _, err := model.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != labels[i] {
			t.Fatalf("row %v: expected %d, got %d", row, labels[i], label)
		}
	}
}

func TestDecisionTreeMaxDepthLimitsGrowth(t *testing.T) {
	features := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}}
	labels := []int{0, 1, 0, 1, 0, 1}

	model := NewDecisionTree(WithTreeMaxDepth(1))
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(model.Nodes) > 3 {
		t.Fatalf("expected at most 3 nodes at depth 1, got %d", len(model.Nodes))
	}
}

func TestDecisionTreeConstantFeaturesBecomeLeaf(t *testing.T) {
	features := [][]float64{{1, 1}, {1, 1}, {1, 1}}
	labels := []int{0, 1, 1}

	model := NewDecisionTree()
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(model.Nodes) != 1 || !model.Nodes[0].IsLeaf {
		t.Fatalf("expected a single leaf, got %+v", model.Nodes)
	}
	label, confidence, err := model.Predict([]float64{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected majority label 1, got %d", label)
	}
	if confidence < 0.66 || confidence > 0.67 {
		t.Fatalf("expected confidence 2/3, got %f", confidence)
	}
}

func TestDecisionTreeErrors(t *testing.T) {
	model := NewDecisionTree()
	if _, _, err := model.Predict([]float64{1}); err == nil {
		t.Fatal("expected error for untrained tree")
	}
	if err := model.Train(nil, nil, 2); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := model.Train([][]float64{{1}, {2}}, []int{0}, 2); err == nil {
		t.Fatal("expected error for size mismatch")
	}
	if err := model.Train([][]float64{{1}, {2, 3}}, []int{0, 1}, 2); err == nil {
		t.Fatal("expected error for ragged rows")
	}
	if err := model.Train([][]float64{{1}}, []int{3}, 2); err == nil {
		t.Fatal("expected error for label out of range")
	}
}
