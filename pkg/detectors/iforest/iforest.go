// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hed1ad/netguard/pkg/detectors"
)

// autoSampleSize caps the per-tree subsample when sampleSize is 0.
const autoSampleSize = 256

// eulerGamma is the Euler-Mascheroni constant.
const eulerGamma = 0.5772156649015329

var errNotTrained = errors.New("model not trained")

// IsolationForest implements unsupervised anomaly detection using isolation trees.
//
// Scores follow the convention where lower means more anomalous: ScoreSamples
// returns -2^(-E[h(x)]/c(n)), and the decision offset is the contamination
// percentile of the training scores.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	maxFeatures   float64
	seed          int64

	// Trained model
	trees      []*Tree
	maxSamples int
	nFeatures  int
	offset     float64
	trained    bool
}

// Tree is a single isolation tree.
type Tree struct {
	Root *Node
}

// Node is a node in an isolation tree. Leaves have nil children.
type Node struct {
	// Split parameters (for internal nodes)
	Feature   int
	Threshold float64

	// Children
	Left  *Node
	Right *Node

	// Size is the number of training samples that reached this node.
	Size int
}

func (n *Node) isLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
// Zero picks min(256, number of training rows).
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithMaxFeatures sets the fraction of features each tree may split on.
func WithMaxFeatures(frac float64) Option {
	return func(f *IsolationForest) {
		f.maxFeatures = frac
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// FromConfig maps a detectors.Config to options.
func FromConfig(cfg detectors.Config) []Option {
	return []Option{
		WithTrees(cfg.Trees),
		WithSampleSize(cfg.MaxSamples),
		WithContamination(cfg.Contamination),
		WithSeed(cfg.RandomSeed),
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    0,
		contamination: 0.1,
		maxFeatures:   1.0,
		seed:          42,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the Isolation Forest on the provided data.
// Trees draw their subsample without replacement. The random source is
// reseeded on every call, so fitting the same data twice gives the same forest.
func (f *IsolationForest) Fit(ctx context.Context, data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	if f.nTrees <= 0 {
		return fmt.Errorf("invalid number of trees: %d", f.nTrees)
	}
	if f.contamination <= 0 || f.contamination >= 1 {
		return fmt.Errorf("contamination must be in (0, 1), got %v", f.contamination)
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	for i, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
	}

	sampleSize := f.sampleSize
	if sampleSize <= 0 {
		sampleSize = autoSampleSize
	}
	if sampleSize > nSamples {
		sampleSize = nSamples
	}

	featuresPerTree := int(math.Max(1, math.Round(f.maxFeatures*float64(nFeatures))))
	if featuresPerTree > nFeatures {
		featuresPerTree = nFeatures
	}

	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))
	rng := rand.New(rand.NewSource(f.seed))

	trees := make([]*Tree, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Sample without replacement
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		features := allFeatures(nFeatures)
		if featuresPerTree < nFeatures {
			features = rng.Perm(nFeatures)[:featuresPerTree]
		}

		b := builder{rng: rng, features: features, maxDepth: maxDepth}
		trees[i] = &Tree{Root: b.build(sample, 0)}
	}

	f.trees = trees
	f.maxSamples = sampleSize
	f.nFeatures = nFeatures
	f.trained = true

	scores, err := f.scoreSamples(data)
	if err != nil {
		return err
	}
	f.offset = percentile(scores, 100*f.contamination)

	return nil
}

func allFeatures(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// builder grows a single tree.
type builder struct {
	rng      *rand.Rand
	features []int
	maxDepth int
}

func (b *builder) build(data [][]float64, depth int) *Node {
	n := len(data)

	// Terminal conditions
	if depth >= b.maxDepth || n <= 1 {
		return &Node{Size: n}
	}

	// Visit candidate features in random order until one is not constant.
	for _, k := range b.rng.Perm(len(b.features)) {
		feature := b.features[k]

		minVal, maxVal := data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			if row[feature] < minVal {
				minVal = row[feature]
			}
			if row[feature] > maxVal {
				maxVal = row[feature]
			}
		}
		if minVal == maxVal {
			continue
		}

		threshold := minVal + b.rng.Float64()*(maxVal-minVal)
		if threshold >= maxVal {
			threshold = minVal
		}

		var leftData, rightData [][]float64
		for _, row := range data {
			if row[feature] <= threshold {
				leftData = append(leftData, row)
			} else {
				rightData = append(rightData, row)
			}
		}

		return &Node{
			Feature:   feature,
			Threshold: threshold,
			Left:      b.build(leftData, depth+1),
			Right:     b.build(rightData, depth+1),
			Size:      n,
		}
	}

	// All candidate features are constant.
	return &Node{Size: n}
}

// ScoreSamples returns -2^(-E[h(x)]/c(n)) per sample. Lower is more anomalous.
func (f *IsolationForest) ScoreSamples(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errNotTrained
	}

	return f.scoreSamples(data)
}

func (f *IsolationForest) scoreSamples(data [][]float64) ([]float64, error) {
	norm := averagePathLength(float64(f.maxSamples))
	scores := make([]float64, len(data))

	for i, sample := range data {
		if len(sample) != f.nFeatures {
			return nil, fmt.Errorf("sample %d has %d features, model expects %d", i, len(sample), f.nFeatures)
		}

		// Average path length across all trees
		var totalPath float64
		for _, tree := range f.trees {
			totalPath += pathLength(sample, tree.Root, 0)
		}
		avgPath := totalPath / float64(len(f.trees))

		if norm == 0 {
			// One-row training set: the normalized depth is taken as 1.
			scores[i] = -0.5
			continue
		}
		scores[i] = -math.Pow(2, -avgPath/norm)
	}

	return scores, nil
}

// DecisionFunction returns ScoreSamples minus the fitted offset.
func (f *IsolationForest) DecisionFunction(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errNotTrained
	}

	scores, err := f.scoreSamples(data)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] -= f.offset
	}
	return scores, nil
}

// Predict returns detectors.Outlier for samples below the offset and
// detectors.Inlier otherwise.
func (f *IsolationForest) Predict(data [][]float64) ([]int, error) {
	decision, err := f.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return labels(decision), nil
}

// PredictWithScores returns labels and raw scores from a single pass.
func (f *IsolationForest) PredictWithScores(data [][]float64) ([]int, []float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, nil, errNotTrained
	}

	scores, err := f.scoreSamples(data)
	if err != nil {
		return nil, nil, err
	}
	decision := make([]float64, len(scores))
	for i, s := range scores {
		decision[i] = s - f.offset
	}
	return labels(decision), scores, nil
}

func labels(decision []float64) []int {
	out := make([]int, len(decision))
	for i, d := range decision {
		if d < 0 {
			out[i] = detectors.Outlier
		} else {
			out[i] = detectors.Inlier
		}
	}
	return out
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *Node, currentDepth int) float64 {
	if n.isLeaf() {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.Size))
	}

	if sample[n.Feature] <= n.Threshold {
		return pathLength(sample, n.Left, currentDepth+1)
	}
	return pathLength(sample, n.Right, currentDepth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H(i) ~ ln(i) + gamma
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// state is the gob representation of a trained forest.
type state struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	MaxFeatures   float64
	Seed          int64
	MaxSamples    int
	NFeatures     int
	Offset        float64
	Trees         []*Tree
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(state{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		MaxFeatures:   f.maxFeatures,
		Seed:          f.seed,
		MaxSamples:    f.maxSamples,
		NFeatures:     f.nFeatures,
		Offset:        f.offset,
		Trees:         f.trees,
	})
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	if len(s.Trees) == 0 || s.MaxSamples <= 0 {
		return errors.New("serialized forest has no trees")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = s.NTrees
	f.sampleSize = s.SampleSize
	f.contamination = s.Contamination
	f.maxFeatures = s.MaxFeatures
	f.seed = s.Seed
	f.maxSamples = s.MaxSamples
	f.nFeatures = s.NFeatures
	f.offset = s.Offset
	f.trees = s.Trees
	f.trained = true

	return nil
}

// Offset returns the fitted decision offset.
func (f *IsolationForest) Offset() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.offset
}

// Trained reports whether the forest has been fitted or loaded.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}

// percentile returns the p-th percentile with linear interpolation between
// closest ranks.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	pos := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}
