// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Split criteria.
const (
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
)

// minGain is the smallest impurity decrease that justifies a split.
const minGain = 1e-12

// TreeConfig holds decision tree hyperparameters.
type TreeConfig struct {
	Criterion       string
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     MaxFeatures
	Seed            int64
}

// DefaultTreeConfig mirrors the usual CART defaults: gini, fully grown.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		Criterion:       CriterionGini,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "all",
	}
}

func treeConfigFromParams(p Params, def TreeConfig, allowed ...string) (TreeConfig, error) {
	if err := p.CheckKnown(allowed...); err != nil {
		return TreeConfig{}, err
	}
	cfg := def
	var err error
	if cfg.Criterion, err = p.Str("criterion", def.Criterion); err != nil {
		return cfg, err
	}
	if cfg.MaxDepth, err = p.Int("max_depth", def.MaxDepth); err != nil {
		return cfg, err
	}
	if cfg.MinSamplesSplit, err = p.Int("min_samples_split", def.MinSamplesSplit); err != nil {
		return cfg, err
	}
	if cfg.MinSamplesLeaf, err = p.Int("min_samples_leaf", def.MinSamplesLeaf); err != nil {
		return cfg, err
	}
	if cfg.MaxFeatures, err = maxFeaturesParam(p, def.MaxFeatures); err != nil {
		return cfg, err
	}
	seed, err := p.Int("seed", int(def.Seed))
	if err != nil {
		return cfg, err
	}
	cfg.Seed = int64(seed)
	return cfg, cfg.validate()
}

func (c TreeConfig) validate() error {
	if c.Criterion != CriterionGini && c.Criterion != CriterionEntropy {
		return fmt.Errorf("criterion %q: want gini or entropy", c.Criterion)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MinSamplesSplit < 2 {
		return fmt.Errorf("min_samples_split must be >= 2, got %d", c.MinSamplesSplit)
	}
	if c.MinSamplesLeaf < 1 {
		return fmt.Errorf("min_samples_leaf must be >= 1, got %d", c.MinSamplesLeaf)
	}
	return nil
}

// Node is one decision tree node. A node without children is a leaf.
// Rows with feature value <= Threshold go Left.
type Node struct {
	Feature   int
	Threshold float64
	Left      *Node
	Right     *Node
	Proba     []float64
	Samples   int
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil || n.Right == nil
}

// Tree is a CART classification tree.
type Tree struct {
	Config      TreeConfig
	Root        *Node
	NClasses    int
	NFeatures   int
	Importances []float64
}

// NewDecisionTree builds an unfitted tree from params.
func NewDecisionTree(p Params) (*Tree, error) {
	cfg, err := treeConfigFromParams(p, DefaultTreeConfig(),
		"criterion", "max_depth", "min_samples_split", "min_samples_leaf", "max_features", "seed")
	if err != nil {
		return nil, err
	}
	return &Tree{Config: cfg}, nil
}

// Name implements Classifier.
func (t *Tree) Name() Algorithm { return DecisionTree }

// Params implements Classifier.
func (t *Tree) Params() Params {
	return Params{
		"criterion":         t.Config.Criterion,
		"max_depth":         t.Config.MaxDepth,
		"min_samples_split": t.Config.MinSamplesSplit,
		"min_samples_leaf":  t.Config.MinSamplesLeaf,
		"max_features":      string(t.Config.MaxFeatures),
		"seed":              int(t.Config.Seed),
	}
}

// Fit grows the tree on every row of X.
func (t *Tree) Fit(X mat.Matrix, y []int, nClasses int) error {
	rows, _, err := checkFitInput(X, y, nClasses)
	if err != nil {
		return err
	}
	idx := make([]int, rows)
	for i := range idx {
		idx[i] = i
	}
	return t.fitIndices(newColumns(X), y, nClasses, idx, rand.New(rand.NewSource(t.Config.Seed)))
}

// fitIndices grows the tree on the given (possibly repeated) row indices.
func (t *Tree) fitIndices(data columns, y []int, nClasses int, idx []int, rng *rand.Rand) error {
	k, err := t.Config.MaxFeatures.Resolve(len(data))
	if err != nil {
		return err
	}
	b := &treeBuilder{
		cfg:         t.Config,
		data:        data,
		y:           y,
		nClasses:    nClasses,
		maxFeatures: k,
		rng:         rng,
		importances: make([]float64, len(data)),
		total:       float64(len(idx)),
	}
	t.Root = b.grow(idx, 0)
	t.NClasses = nClasses
	t.NFeatures = len(data)
	t.Importances = normalize(b.importances)
	return nil
}

// PredictProba implements Classifier.
func (t *Tree) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if t.Root == nil {
		return nil, ErrNotFitted
	}
	if err := checkPredictInput(X, t.NFeatures); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	out := mat.NewDense(r, t.NClasses, nil)
	for i := 0; i < r; i++ {
		out.SetRow(i, t.leaf(X, i).Proba)
	}
	return out, nil
}

// Predict implements Classifier.
func (t *Tree) Predict(X mat.Matrix) ([]int, error) {
	p, err := t.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxRows(p), nil
}

// FeatureImportances implements FeatureImporter.
func (t *Tree) FeatureImportances() []float64 {
	return append([]float64(nil), t.Importances...)
}

// Depth returns the length of the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(n *Node) int
	walk = func(n *Node) int {
		if n == nil || n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(t.Root)
}

// Leaves returns the number of leaf nodes.
func (t *Tree) Leaves() int {
	var walk func(n *Node) int
	walk = func(n *Node) int {
		if n == nil {
			return 0
		}
		if n.IsLeaf() {
			return 1
		}
		return walk(n.Left) + walk(n.Right)
	}
	return walk(t.Root)
}

func (t *Tree) leaf(X mat.Matrix, row int) *Node {
	n := t.Root
	for !n.IsLeaf() {
		if X.At(row, n.Feature) <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}

// =============================================================================
// Tree Construction (Internal)
// =============================================================================

// columns stores a feature matrix column-major for fast sorted sweeps.
type columns [][]float64

func newColumns(X mat.Matrix) columns {
	_, c := X.Dims()
	out := make(columns, c)
	for j := 0; j < c; j++ {
		out[j] = mat.Col(nil, j, X)
	}
	return out
}

type treeBuilder struct {
	cfg         TreeConfig
	data        columns
	y           []int
	nClasses    int
	maxFeatures int
	rng         *rand.Rand
	importances []float64
	total       float64
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (b *treeBuilder) grow(idx []int, depth int) *Node {
	counts := make([]float64, b.nClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	n := float64(len(idx))
	node := &Node{Samples: len(idx), Proba: make([]float64, b.nClasses)}
	for c, v := range counts {
		node.Proba[c] = v / n
	}

	parentImp := impurity(b.cfg.Criterion, counts, n)
	if parentImp <= 0 ||
		len(idx) < b.cfg.MinSamplesSplit ||
		len(idx) < 2*b.cfg.MinSamplesLeaf ||
		(b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		return node
	}

	best, ok := b.bestSplit(idx, counts, parentImp)
	if !ok {
		return node
	}

	var left, right []int
	col := b.data[best.feature]
	for _, i := range idx {
		if col[i] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importances[best.feature] += n / b.total * best.gain
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = b.grow(left, depth+1)
	node.Right = b.grow(right, depth+1)
	return node
}

func (b *treeBuilder) candidateFeatures() []int {
	total := len(b.data)
	if b.maxFeatures >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return b.rng.Perm(total)[:b.maxFeatures]
}

func (b *treeBuilder) bestSplit(idx []int, counts []float64, parentImp float64) (split, bool) {
	n := float64(len(idx))
	minLeaf := b.cfg.MinSamplesLeaf
	best := split{gain: minGain}
	found := false

	sorted := make([]int, len(idx))
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	for _, f := range b.candidateFeatures() {
		col := b.data[f]
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return col[sorted[i]] < col[sorted[j]] })

		for c := range left {
			left[c] = 0
		}
		copy(right, counts)

		for pos := 0; pos < len(sorted)-1; pos++ {
			c := b.y[sorted[pos]]
			left[c]++
			right[c]--

			v, next := col[sorted[pos]], col[sorted[pos+1]]
			if v == next {
				continue
			}
			nl := pos + 1
			nr := len(sorted) - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}

			childImp := (float64(nl)*impurity(b.cfg.Criterion, left, float64(nl)) +
				float64(nr)*impurity(b.cfg.Criterion, right, float64(nr))) / n
			gain := parentImp - childImp
			if gain > best.gain {
				threshold := v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
				best = split{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

func impurity(criterion string, counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	switch criterion {
	case CriterionEntropy:
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / n
				h -= p * math.Log2(p)
			}
		}
		return h
	default:
		g := 1.0
		for _, c := range counts {
			p := c / n
			g -= p * p
		}
		return g
	}
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
