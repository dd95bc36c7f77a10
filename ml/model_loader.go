package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// minHoldoutRows is the smallest dataset that gets a holdout accuracy.
const minHoldoutRows = 10

// TrainConfig holds forest hyperparameters. Zero values keep the forest
// defaults.
type TrainConfig struct {
	Trees            int
	MaxDepth         int
	MinSamplesSplit  int
	MaxFeatures      int
	DisableBootstrap bool
	Seed             int64
	TestRatio        float64
}

func (c TrainConfig) forestOptions() []ForestOption {
	opts := []ForestOption{WithSeed(c.Seed), WithBootstrap(!c.DisableBootstrap)}
	if c.Trees > 0 {
		opts = append(opts, WithNEstimators(c.Trees))
	}
	if c.MaxDepth > 0 {
		opts = append(opts, WithMaxDepth(c.MaxDepth))
	}
	if c.MinSamplesSplit > 0 {
		opts = append(opts, WithMinSamplesSplit(c.MinSamplesSplit))
	}
	if c.MaxFeatures > 0 {
		opts = append(opts, WithMaxFeatures(c.MaxFeatures))
	}
	return opts
}

// Model is the persisted artifact: a fitted forest plus what is needed to
// read queries and render labels.
type Model struct {
	ID           string        `json:"id"`
	TrainedAt    time.Time     `json:"trained_at"`
	FeatureNames []string      `json:"feature_names"`
	Classes      []string      `json:"classes"`
	Rows         int           `json:"rows"`
	Accuracy     *float64      `json:"holdout_accuracy,omitempty"`
	Forest       *RandomForest `json:"forest"`
}

// Summary is the model metadata without the trees.
type Summary struct {
	ID              string    `json:"id"`
	TrainedAt       time.Time `json:"trained_at"`
	Features        int       `json:"features"`
	FeatureNames    []string  `json:"feature_names"`
	Classes         []string  `json:"classes"`
	Rows            int       `json:"rows"`
	Trees           int       `json:"trees"`
	HoldoutAccuracy *float64  `json:"holdout_accuracy,omitempty"`
}

// Train fits a forest on every row of ds. When ds is large enough a second
// forest is fitted on a split first to estimate accuracy.
func Train(ctx context.Context, ds *Dataset, config TrainConfig) (*Model, error) {
	if ds == nil || len(ds.Features) == 0 {
		return nil, ErrEmptyDataset
	}
	classes, labels := ds.EncodeLabels()

	model := &Model{
		ID:           uuid.NewString(),
		FeatureNames: append([]string(nil), ds.FeatureNames...),
		Classes:      classes,
		Rows:         len(ds.Features),
	}

	if len(ds.Features) >= minHoldoutRows {
		trainX, trainY, testX, testY := SplitDataset(ds.Features, labels, config.TestRatio, config.Seed)
		probe := NewRandomForest(config.forestOptions()...)
		if err := probe.Fit(ctx, trainX, trainY, len(classes)); err != nil {
			return nil, fmt.Errorf("holdout fit: %w", err)
		}
		accuracy := Accuracy(probe, testX, testY)
		model.Accuracy = &accuracy
	}

	forest := NewRandomForest(config.forestOptions()...)
	if err := forest.Fit(ctx, ds.Features, labels, len(classes)); err != nil {
		return nil, err
	}
	model.Forest = forest
	model.TrainedAt = time.Now().UTC()
	return model, nil
}

// Predict returns the label for one feature vector and its vote share.
func (m *Model) Predict(features []float64) (string, float64, error) {
	if m.Forest == nil {
		return "", 0, errors.New("model not trained")
	}
	if len(features) != len(m.FeatureNames) {
		return "", 0, fmt.Errorf("%w: expected %d features, got %d", ErrInvalidQuery, len(m.FeatureNames), len(features))
	}
	class, confidence, err := m.Forest.Predict(features)
	if err != nil {
		return "", 0, err
	}
	if class < 0 || class >= len(m.Classes) {
		return "", 0, errors.New("invalid model state")
	}
	return m.Classes[class], confidence, nil
}

func (m *Model) Summary() Summary {
	trees := 0
	if m.Forest != nil {
		trees = len(m.Forest.Trees)
	}
	return Summary{
		ID:              m.ID,
		TrainedAt:       m.TrainedAt,
		Features:        len(m.FeatureNames),
		FeatureNames:    m.FeatureNames,
		Classes:         m.Classes,
		Rows:            m.Rows,
		Trees:           trees,
		HoldoutAccuracy: m.Accuracy,
	}
}

// Save writes the model next to path and renames it into place, so a
// concurrent LoadModel sees either the old or the new file.
func (m *Model) Save(path string) error {
	if m.Forest == nil || len(m.Forest.Trees) == 0 {
		return errors.New("model not trained")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadModel reads a model written by Save.
func LoadModel(path string) (*Model, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if m.Forest == nil || len(m.Forest.Trees) == 0 || len(m.Classes) == 0 {
		return nil, fmt.Errorf("decode model %s: empty forest", path)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	return &m, nil
}

// validate rejects forests that would panic or never terminate at predict
// time. Children must come after their parent in the node slice.
func (m *Model) validate() error {
	forest := m.Forest
	if forest.NumClasses != len(m.Classes) {
		return fmt.Errorf("forest has %d classes, model lists %d", forest.NumClasses, len(m.Classes))
	}
	if forest.NumFeatures != len(m.FeatureNames) {
		return fmt.Errorf("forest has %d features, model lists %d", forest.NumFeatures, len(m.FeatureNames))
	}
	for t, tree := range forest.Trees {
		if tree == nil || len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		if tree.NumClasses != forest.NumClasses {
			return fmt.Errorf("tree %d has %d classes, forest has %d", t, tree.NumClasses, forest.NumClasses)
		}
		for i, node := range tree.Nodes {
			if node.IsLeaf {
				if len(node.Distribution) != tree.NumClasses || node.ClassLabel < 0 || node.ClassLabel >= tree.NumClasses {
					return fmt.Errorf("tree %d node %d: invalid leaf", t, i)
				}
				continue
			}
			if node.FeatureIdx < 0 || node.FeatureIdx >= forest.NumFeatures {
				return fmt.Errorf("tree %d node %d: feature index %d out of range", t, i, node.FeatureIdx)
			}
			for _, child := range []int{node.LeftChild, node.RightChild} {
				if child <= i || child >= len(tree.Nodes) {
					return fmt.Errorf("tree %d node %d: invalid child %d", t, i, child)
				}
			}
		}
	}
	return nil
}
