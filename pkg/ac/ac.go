// Package ac performs the per-pixel atmospheric correction: classification,
// view geometry, TOSA reflectance and the neural network evaluation.
package ac

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/project-spencer/wlr/pkg/classify"
	"github.com/project-spencer/wlr/pkg/geometry"
	"github.com/project-spencer/wlr/pkg/model"
	"github.com/project-spencer/wlr/pkg/tosa"
)

var (
	ErrInputSize  = errors.New("network input size does not match band count")
	ErrOutputSize = errors.New("network output size does not match band count")
)

// sun zenith, three direction cosines, temperature, salinity
const geometryInputs = 6

// InputSize is the network input size the corrector expects.
const InputSize = geometryInputs + model.NumBands

// Network is the trained water-leaving reflectance network.
type Network interface {
	InputSize() int
	Calc(input []float64) ([]float64, error)
}

type Classifier interface {
	Classify(p *model.PixelSample) (model.Flag, error)
}

type Option func(*Corrector)

// WithClassifier sets the classifier run before the correction. Without it
// the Validation bits of the sample are used.
func WithClassifier(cl Classifier) Option {
	return func(c *Corrector) { c.classifier = cl }
}

// WithPathRadiance fills Result.Path with the Rayleigh path radiance.
func WithPathRadiance() Option {
	return func(c *Corrector) { c.withPath = true }
}

// Corrector corrects single pixels. It owns a TOSA workspace and an input
// buffer that are reused between calls, so every tile needs its own.
type Corrector struct {
	net        Network
	classifier Classifier
	ws         *tosa.Workspace
	in         []float64
	withPath   bool
}

func New(net Network, opts ...Option) (*Corrector, error) {
	if n := net.InputSize(); n != InputSize {
		return nil, fmt.Errorf("%w: network takes %d inputs, want %d", ErrInputSize, n, InputSize)
	}
	if o, ok := net.(interface{ OutputSize() int }); ok && o.OutputSize() != model.NumBands {
		return nil, fmt.Errorf("%w: network gives %d outputs, want %d", ErrOutputSize, o.OutputSize(), model.NumBands)
	}

	c := &Corrector{
		net:        net,
		classifier: classify.Precomputed{},
		ws:         tosa.NewWorkspace(),
		in:         make([]float64, InputSize),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Classify returns the classification bits of p.
func (c *Corrector) Classify(p *model.PixelSample) (model.Flag, error) {
	return c.classifier.Classify(p)
}

// Correct computes the water-leaving reflectance of p. Pixels classified as
// land, cloud/ice or out of range come back flagged INVALID with zero
// spectra; neither the TOSA model nor the network run for them.
func (c *Corrector) Correct(p *model.PixelSample, temperature, salinity float64) (model.Result, error) {
	var res model.Result

	cls, err := c.classifier.Classify(p)
	if err != nil {
		return res, err
	}
	if cls&model.InvalidMask != 0 {
		res.Flag = model.Invalid | cls&model.InvalidMask
		return res, nil
	}

	viewZenith := geometry.CorrectViewZenith(p.ViewZenith, p.X, p.NadirColumn)
	viewZenithRad := geometry.Radians(viewZenith)
	sunZenithRad := geometry.Radians(p.SunZenith)
	aziDiffRad := geometry.Radians(geometry.AzimuthDifference(p.ViewAzimuth, p.SunAzimuth))
	xyz := geometry.DirectionCosines(viewZenithRad, aziDiffRad)

	res.Tosa = c.ws.Compute(p, viewZenithRad, sunZenithRad)
	if c.withPath {
		res.Path = c.ws.PathRadiance()
	}

	c.in[0] = p.SunZenith
	c.in[1] = xyz[0]
	c.in[2] = xyz[1]
	c.in[3] = xyz[2]
	c.in[4] = temperature
	c.in[5] = salinity

	// the network was trained on log(pi * rTosa)
	rTosa := c.in[geometryInputs:]
	copy(rTosa, res.Tosa[:])
	floats.Scale(math.Pi, rTosa)
	for i, v := range rTosa {
		rTosa[i] = math.Log(v)
	}

	out, err := c.net.Calc(c.in)
	if err != nil {
		return model.Result{}, fmt.Errorf("could not evaluate network at pixel (%d,%d): %w", p.X, p.Y, err)
	}
	copy(res.Reflec[:], out)

	return res, nil
}
