package ml

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// Package ml implements the Isolation Forest novelty model: an ensemble of
// randomized partitioning trees in which a point's anomaly score is a
// monotonic function of its average isolation depth. Points that separate
// from the bulk of the training data in few random splits score high.
//
// Scores live in (0, 1]: ~0.5 is unremarkable, values approaching 1 are
// strongly anomalous. The decision function shifts scores against the
// boundary learned at fit time so that negative values mean anomalous and
// lower means more so.

// TreeNode is a single node of an isolation tree. Exported fields keep the
// trained ensemble serializable as a model artifact.
type TreeNode struct {
	SplitFeature int       `json:"f,omitempty"`
	SplitValue   float64   `json:"v,omitempty"`
	Left         *TreeNode `json:"l,omitempty"`
	Right        *TreeNode `json:"r,omitempty"`
	Size         int       `json:"n"`
	Leaf         bool      `json:"leaf,omitempty"`
}

// Forest is a trained isolation forest together with the decision boundary
// estimated from the training score distribution.
type Forest struct {
	Trees         []*TreeNode `json:"trees"`
	SubSampleSize int         `json:"sub_sample_size"`
	NumFeatures   int         `json:"num_features"`
	Threshold     float64     `json:"threshold"`
}

// ForestOptions controls fitting. Zero values take defaults.
type ForestOptions struct {
	NumTrees      int   // default 100
	SubSampleSize int   // default 256, capped at the training set size
	MaxDepth      int   // default ceil(log2(sub-sample size))
	Seed          int64 // base seed; each tree derives its own generator
	Workers       int   // default GOMAXPROCS
}

const defaultNumTrees = 100
const defaultSubSampleSize = 256

// baseThreshold is the canonical isolation-forest boundary: a point whose
// average isolation depth matches the expected depth of a random point.
const baseThreshold = 0.5

// thresholdQuantile of the training scores lifts the boundary above 0.5 for
// data whose own tail is heavier than the canonical assumption.
const thresholdQuantile = 0.995

// FitForest trains an isolation forest on the given rows. Tree construction
// is embarrassingly parallel; each tree seeds its own generator from the base
// seed and its index, so results are reproducible regardless of scheduling.
func FitForest(rows [][]float64, opts ForestOptions) (*Forest, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit forest: no rows")
	}
	width := len(rows[0])
	for _, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("fit forest: ragged row (want %d columns, got %d)", width, len(row))
		}
	}

	numTrees := opts.NumTrees
	if numTrees <= 0 {
		numTrees = defaultNumTrees
	}
	sub := opts.SubSampleSize
	if sub <= 0 {
		sub = defaultSubSampleSize
	}
	if sub > len(rows) {
		sub = len(rows)
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = int(math.Ceil(math.Log2(float64(sub)))) + 1
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > numTrees {
		workers = numTrees
	}

	f := &Forest{
		Trees:         make([]*TreeNode, numTrees),
		SubSampleSize: sub,
		NumFeatures:   width,
	}

	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				rng := rand.New(rand.NewSource(opts.Seed + int64(i)))
				sample := sampleRows(rows, sub, rng)
				f.Trees[i] = buildTree(sample, 0, maxDepth, rng)
			}
		}()
	}
	for i := 0; i < numTrees; i++ {
		work <- i
	}
	close(work)
	wg.Wait()

	f.Threshold = estimateThreshold(f, rows)
	return f, nil
}

// estimateThreshold derives the decision boundary from the training data's
// own score distribution instead of an externally supplied anomaly rate.
// The boundary must sit strictly below the top training score: a point at or
// beyond the training extremes follows the same splits as the most extreme
// training sample and ties its score exactly, so a boundary at the maximum
// would never flag it.
func estimateThreshold(f *Forest, rows [][]float64) float64 {
	scores := f.ScoreBatch(rows)
	sort.Float64s(scores)

	top := scores[len(scores)-1]
	idx := int(math.Ceil(thresholdQuantile*float64(len(scores)))) - 1
	if idx < 0 {
		idx = 0
	}
	boundary := scores[idx]
	if boundary >= top {
		// Small or duplicate-heavy training sets land the quantile on the
		// maximum itself. Back off to the next score below the top. When
		// every score is equal there is no tail to separate, and the shared
		// score becomes the boundary, leaving the training points exactly
		// on it.
		for i := len(scores) - 2; i >= 0; i-- {
			if scores[i] < top {
				boundary = scores[i]
				break
			}
		}
	}
	return math.Max(baseThreshold, boundary)
}

// sampleRows draws a uniform sub-sample without replacement.
func sampleRows(rows [][]float64, size int, rng *rand.Rand) [][]float64 {
	idx := rng.Perm(len(rows))[:size]
	sample := make([][]float64, size)
	for i, j := range idx {
		sample[i] = rows[j]
	}
	return sample
}

func buildTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *TreeNode {
	if len(rows) <= 1 || depth >= maxDepth || allIdentical(rows) {
		return &TreeNode{Size: len(rows), Leaf: true}
	}

	feature := rng.Intn(len(rows[0]))
	minVal, maxVal := featureRange(rows, feature)
	if minVal == maxVal {
		return &TreeNode{Size: len(rows), Leaf: true}
	}
	split := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &TreeNode{Size: len(rows), Leaf: true}
	}

	return &TreeNode{
		SplitFeature: feature,
		SplitValue:   split,
		Left:         buildTree(left, depth+1, maxDepth, rng),
		Right:        buildTree(right, depth+1, maxDepth, rng),
		Size:         len(rows),
	}
}

func allIdentical(rows [][]float64) bool {
	first := rows[0]
	for _, row := range rows[1:] {
		for c := range first {
			if math.Abs(row[c]-first[c]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(rows [][]float64, feature int) (float64, float64) {
	minVal, maxVal := rows[0][feature], rows[0][feature]
	for _, row := range rows {
		v := row[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

// Score returns the anomaly score of a single point: 2^(-E[h(x)] / c(n)),
// where E[h(x)] is the average path length across trees and c(n) normalizes
// by the expected depth of an unsuccessful BST search over the sub-sample.
func (f *Forest) Score(point []float64) float64 {
	if len(f.Trees) == 0 {
		return baseThreshold
	}

	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, point, 0)
	}
	avg := total / float64(len(f.Trees))
	return math.Pow(2, -avg/averagePathLength(f.SubSampleSize))
}

// Decision returns the score shifted against the learned boundary: negative
// means anomalous, and lower means more anomalous.
func (f *Forest) Decision(point []float64) float64 {
	return f.Threshold - f.Score(point)
}

// IsAnomalous classifies a point with the boundary learned at fit time.
func (f *Forest) IsAnomalous(point []float64) bool {
	return f.Decision(point) < 0
}

// ScoreBatch scores rows, preserving order.
func (f *Forest) ScoreBatch(rows [][]float64) []float64 {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.Score(row)
	}
	return scores
}

// DecisionBatch computes decision-function values for rows, preserving order.
func (f *Forest) DecisionBatch(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = f.Decision(row)
	}
	return out
}

func pathLength(tree *TreeNode, point []float64, depth int) float64 {
	if tree.Leaf {
		return float64(depth) + averagePathLength(tree.Size)
	}
	if point[tree.SplitFeature] < tree.SplitValue {
		return pathLength(tree.Left, point, depth+1)
	}
	return pathLength(tree.Right, point, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a BST of n points: 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	return 2*harmonic(n-1) - 2*float64(n-1)/float64(n)
}

// harmonic approximates H(n) as ln(n) plus the Euler-Mascheroni constant.
func harmonic(n int) float64 {
	return math.Log(float64(n)) + 0.5772156649
}
