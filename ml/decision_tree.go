package ml

import (
	"errors"
	"math/rand"
	"sort"
)

// DecisionTree is a CART classifier stored as a flat node slice so it
// serializes to JSON without recursion.
type DecisionTree struct {
	MaxDepth        int `json:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split"`
	MaxFeatures     int `json:"max_features"`

	NumClasses int        `json:"num_classes"`
	Nodes      []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution,omitempty"`
}

// TreeOption configures a DecisionTree.
type TreeOption func(*DecisionTree)

func WithTreeMaxDepth(d int) TreeOption { return func(dt *DecisionTree) { dt.MaxDepth = d } }
func WithTreeMinSamplesSplit(n int) TreeOption {
	return func(dt *DecisionTree) { dt.MinSamplesSplit = n }
}
func WithTreeMaxFeatures(k int) TreeOption { return func(dt *DecisionTree) { dt.MaxFeatures = k } }

// NewDecisionTree returns an unlimited-depth tree that considers every
// feature at each split.
func NewDecisionTree(opts ...TreeOption) *DecisionTree {
	dt := &DecisionTree{MinSamplesSplit: 2}
	for _, o := range opts {
		o(dt)
	}
	return dt
}

// Train fits the tree on every row. Labels must be class indices in
// [0, numClasses).
func (dt *DecisionTree) Train(features [][]float64, labels []int, numClasses int) error {
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	return dt.fit(features, labels, numClasses, indices, rand.New(rand.NewSource(1)))
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, numClasses int, indices []int, rnd *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if numClasses <= 0 {
		return errors.New("no classes")
	}
	width := len(features[0])
	for _, row := range features {
		if len(row) != width {
			return errors.New("inconsistent number of features")
		}
	}
	for _, label := range labels {
		if label < 0 || label >= numClasses {
			return errors.New("label out of range")
		}
	}
	if dt.MinSamplesSplit < 2 {
		dt.MinSamplesSplit = 2
	}

	b := &treeBuilder{
		tree:       dt,
		features:   features,
		labels:     labels,
		numClasses: numClasses,
		width:      width,
		rnd:        rnd,
	}
	dt.NumClasses = numClasses
	dt.Nodes = dt.Nodes[:0]
	b.build(indices, 0)
	return nil
}

// Predict returns the class index of the reached leaf and the share of
// training samples in that leaf that carried it.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, 0, err
	}
	return leaf.ClassLabel, leaf.Distribution[leaf.ClassLabel], nil
}

// Proba returns the class distribution of the reached leaf.
func (dt *DecisionTree) Proba(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return leaf.Distribution, nil
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := &dt.Nodes[idx]
		if node.IsLeaf {
			if len(node.Distribution) != dt.NumClasses {
				return nil, errors.New("invalid tree state")
			}
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

type treeBuilder struct {
	tree       *DecisionTree
	features   [][]float64
	labels     []int
	numClasses int
	width      int
	rnd        *rand.Rand
}

// build appends the subtree for indices and returns the index of its root.
func (b *treeBuilder) build(indices []int, depth int) int {
	counts := b.classCounts(indices)
	self := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, b.leafNode(counts, len(indices)))

	if b.tree.MaxDepth > 0 && depth >= b.tree.MaxDepth {
		return self
	}
	if len(indices) < b.tree.MinSamplesSplit || isPure(counts) {
		return self
	}

	split, ok := b.findBestSplit(indices, counts)
	if !ok {
		return self
	}

	left := make([]int, 0, split.leftSize)
	right := make([]int, 0, len(indices)-split.leftSize)
	for _, i := range indices {
		if b.features[i][split.feature] <= split.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return self
	}

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)

	node := &b.tree.Nodes[self]
	node.IsLeaf = false
	node.FeatureIdx = split.feature
	node.Threshold = split.threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.Distribution = nil
	return self
}

func (b *treeBuilder) leafNode(counts []int, n int) TreeNode {
	dist := make([]float64, len(counts))
	best := 0
	for c, count := range counts {
		dist[c] = float64(count) / float64(n)
		if count > counts[best] {
			best = c
		}
	}
	return TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   best,
		IsLeaf:       true,
		Distribution: dist,
	}
}

func (b *treeBuilder) classCounts(indices []int) []int {
	counts := make([]int, b.numClasses)
	for _, i := range indices {
		counts[b.labels[i]]++
	}
	return counts
}

type splitCandidate struct {
	feature   int
	threshold float64
	impurity  float64
	leftSize  int
}

// findBestSplit scans features in random order. Once MaxFeatures features
// have been examined the search stops, unless no valid split was found yet.
func (b *treeBuilder) findBestSplit(indices []int, counts []int) (splitCandidate, bool) {
	maxFeatures := b.tree.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > b.width {
		maxFeatures = b.width
	}
	order := b.rnd.Perm(b.width)

	best := splitCandidate{feature: -1}
	sorted := make([]int, len(indices))
	left := make([]int, b.numClasses)
	right := make([]int, b.numClasses)

	for visited, feature := range order {
		if visited >= maxFeatures && best.feature >= 0 {
			break
		}
		copy(sorted, indices)
		sort.Slice(sorted, func(i, j int) bool {
			return b.features[sorted[i]][feature] < b.features[sorted[j]][feature]
		})

		for c := range left {
			left[c] = 0
		}
		copy(right, counts)

		n := len(sorted)
		for pos := 0; pos < n-1; pos++ {
			label := b.labels[sorted[pos]]
			left[label]++
			right[label]--

			lo := b.features[sorted[pos]][feature]
			hi := b.features[sorted[pos+1]][feature]
			if lo == hi {
				continue
			}
			leftN := pos + 1
			impurity := weightedGini(left, leftN, right, n-leftN)
			if best.feature < 0 || impurity < best.impurity {
				best = splitCandidate{
					feature:   feature,
					threshold: midpoint(lo, hi),
					impurity:  impurity,
					leftSize:  leftN,
				}
			}
		}
	}
	return best, best.feature >= 0
}

func weightedGini(left []int, leftN int, right []int, rightN int) float64 {
	total := float64(leftN + rightN)
	return (float64(leftN)/total)*gini(left, leftN) + (float64(rightN)/total)*gini(right, rightN)
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(n)
		impurity -= prob * prob
	}
	return impurity
}

// midpoint avoids overflow for large magnitudes and keeps lo <= m < hi.
func midpoint(lo, hi float64) float64 {
	m := lo/2 + hi/2
	if m >= hi || m < lo {
		return lo
	}
	return m
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, count := range counts {
		if count > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}
