// Package nn evaluates feed-forward networks with sigmoid activations and
// min/max scaled inputs and outputs.
package nn

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

var ErrShape = errors.New("network shape mismatch")

// Description is the serialized form of a network.
type Description struct {
	InputMin  []float64 `yaml:"input_min"`
	InputMax  []float64 `yaml:"input_max"`
	OutputMin []float64 `yaml:"output_min"`
	OutputMax []float64 `yaml:"output_max"`
	Layers    []Layer   `yaml:"layers"`
}

type Layer struct {
	Weights [][]float64 `yaml:"weights"` // one row per neuron
	Bias    []float64   `yaml:"bias"`
}

type layer struct {
	w *mat.Dense
	b *mat.VecDense
}

// Network is a multilayer perceptron. An instance keeps scratch vectors and
// is not safe for concurrent use, Clone gives each goroutine its own.
type Network struct {
	inMin, inMax   []float64
	outMin, outMax []float64
	layers         []layer

	scratch []*mat.VecDense
	in      *mat.VecDense
}

// New builds a network from its description and checks that all sizes agree.
func New(d Description) (*Network, error) {
	if len(d.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrShape)
	}
	if len(d.InputMin) == 0 || len(d.InputMin) != len(d.InputMax) {
		return nil, fmt.Errorf("%w: input bounds %d/%d", ErrShape, len(d.InputMin), len(d.InputMax))
	}
	if len(d.OutputMin) != len(d.OutputMax) {
		return nil, fmt.Errorf("%w: output bounds %d/%d", ErrShape, len(d.OutputMin), len(d.OutputMax))
	}

	n := &Network{
		inMin:  d.InputMin,
		inMax:  d.InputMax,
		outMin: d.OutputMin,
		outMax: d.OutputMax,
	}

	width := len(d.InputMin)
	for i, l := range d.Layers {
		rows := len(l.Weights)
		if rows == 0 || len(l.Bias) != rows {
			return nil, fmt.Errorf("%w: layer %d has %d neurons and %d biases", ErrShape, i, rows, len(l.Bias))
		}
		w := mat.NewDense(rows, width, nil)
		for r, row := range l.Weights {
			if len(row) != width {
				return nil, fmt.Errorf("%w: layer %d neuron %d has %d weights, want %d", ErrShape, i, r, len(row), width)
			}
			w.SetRow(r, row)
		}
		n.layers = append(n.layers, layer{w: w, b: mat.NewVecDense(rows, append([]float64(nil), l.Bias...))})
		width = rows
	}

	if width != len(d.OutputMin) {
		return nil, fmt.Errorf("%w: last layer has %d neurons, output bounds have %d", ErrShape, width, len(d.OutputMin))
	}

	n.allocScratch()
	return n, nil
}

func (n *Network) allocScratch() {
	n.in = mat.NewVecDense(len(n.inMin), nil)
	n.scratch = make([]*mat.VecDense, len(n.layers))
	for i, l := range n.layers {
		r, _ := l.w.Dims()
		n.scratch[i] = mat.NewVecDense(r, nil)
	}
}

// Decode reads a YAML network description.
func Decode(r io.Reader) (*Network, error) {
	var d Description
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("could not decode network: %w", err)
	}
	return New(d)
}

// Load reads a YAML network description from a file.
func Load(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open network: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Clone returns a network sharing the weights of n with its own scratch space.
func (n *Network) Clone() *Network {
	c := &Network{
		inMin:  n.inMin,
		inMax:  n.inMax,
		outMin: n.outMin,
		outMax: n.outMax,
		layers: n.layers,
	}
	c.allocScratch()
	return c
}

func (n *Network) InputSize() int  { return len(n.inMin) }
func (n *Network) OutputSize() int { return len(n.outMin) }

// Calc evaluates the network. The returned slice is newly allocated.
// Inputs are not clipped to the declared bounds.
func (n *Network) Calc(input []float64) ([]float64, error) {
	if len(input) != len(n.inMin) {
		return nil, fmt.Errorf("%w: got %d inputs, want %d", ErrShape, len(input), len(n.inMin))
	}

	x := n.in.RawVector().Data
	for i, v := range input {
		x[i] = (v - n.inMin[i]) / (n.inMax[i] - n.inMin[i])
	}

	cur := n.in
	for i, l := range n.layers {
		h := n.scratch[i]
		h.MulVec(l.w, cur)
		h.AddVec(h, l.b)
		d := h.RawVector().Data
		for j := range d {
			d[j] = sigmoid(d[j])
		}
		cur = h
	}

	y := cur.RawVector().Data
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = n.outMin[i] + v*(n.outMax[i]-n.outMin[i])
	}
	return out, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
