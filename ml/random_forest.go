package ml

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// RandomForest is a bagged ensemble of DecisionTrees combined by soft vote.
type RandomForest struct {
	NEstimators     int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MaxFeatures     int   `json:"max_features"`
	Bootstrap       bool  `json:"bootstrap"`
	Seed            int64 `json:"seed"`

	NumClasses  int             `json:"num_classes"`
	NumFeatures int             `json:"num_features"`
	Trees       []*DecisionTree `json:"trees"`
}

type ForestOption func(*RandomForest)

func WithNEstimators(n int) ForestOption { return func(rf *RandomForest) { rf.NEstimators = n } }
func WithMaxDepth(d int) ForestOption    { return func(rf *RandomForest) { rf.MaxDepth = d } }
func WithMinSamplesSplit(n int) ForestOption {
	return func(rf *RandomForest) { rf.MinSamplesSplit = n }
}
func WithMaxFeatures(k int) ForestOption { return func(rf *RandomForest) { rf.MaxFeatures = k } }
func WithBootstrap(b bool) ForestOption  { return func(rf *RandomForest) { rf.Bootstrap = b } }

// WithSeed fixes the random source. Zero keeps the time-based default.
func WithSeed(seed int64) ForestOption {
	return func(rf *RandomForest) {
		if seed != 0 {
			rf.Seed = seed
		}
	}
}

// NewRandomForest uses 100 bootstrapped trees, unlimited depth and sqrt(p)
// features per split unless overridden.
func NewRandomForest(opts ...ForestOption) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		Bootstrap:       true,
		Seed:            time.Now().UnixNano(),
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

// Fit trains every tree concurrently. Cancelling ctx aborts the remaining
// trees and returns the context error.
func (rf *RandomForest) Fit(ctx context.Context, features [][]float64, labels []int, numClasses int) error {
	if len(features) == 0 {
		return errors.New("randomforest: empty features")
	}
	n := len(features)
	if len(labels) != n {
		return errors.New("randomforest: features and labels length mismatch")
	}
	if rf.NEstimators <= 0 {
		return errors.New("randomforest: n_estimators must be positive")
	}

	width := len(features[0])
	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(width)))))
	}

	trees := make([]*DecisionTree, rf.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := 0; i < rf.NEstimators; i++ {
		idx := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			treeRand := rand.New(rand.NewSource(rf.Seed + int64(idx)))

			sample := make([]int, n)
			for j := range sample {
				if rf.Bootstrap {
					sample[j] = treeRand.Intn(n)
				} else {
					sample[j] = j
				}
			}

			tree := NewDecisionTree(
				WithTreeMaxDepth(rf.MaxDepth),
				WithTreeMinSamplesSplit(rf.MinSamplesSplit),
				WithTreeMaxFeatures(maxFeatures),
			)
			if err := tree.fit(features, labels, numClasses, sample, treeRand); err != nil {
				return err
			}
			trees[idx] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.NumClasses = numClasses
	rf.NumFeatures = width
	return nil
}

// Proba averages the leaf distributions of all trees.
func (rf *RandomForest) Proba(features []float64) ([]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, errors.New("model not trained")
	}
	if len(features) != rf.NumFeatures {
		return nil, errors.New("feature count mismatch")
	}
	sum := make([]float64, rf.NumClasses)
	for _, tree := range rf.Trees {
		dist, err := tree.Proba(features)
		if err != nil {
			return nil, err
		}
		for c, p := range dist {
			sum[c] += p
		}
	}
	for c := range sum {
		sum[c] /= float64(len(rf.Trees))
	}
	return sum, nil
}

// Predict returns the class index with the highest averaged probability;
// ties go to the lowest index.
func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	probs, err := rf.Proba(features)
	if err != nil {
		return 0, 0, err
	}
	best := 0
	for c := 1; c < len(probs); c++ {
		if probs[c] > probs[best] {
			best = c
		}
	}
	return best, probs[best], nil
}
