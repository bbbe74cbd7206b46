// Package classify flags pixels that cannot be corrected: land, cloud or ice,
// and TOA values out of range.
package classify

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/project-spencer/wlr/pkg/model"
)

// Water mask sample values.
const (
	LandValue    uint8 = 0
	WaterValue   uint8 = 1
	InvalidValue uint8 = 2
)

// fractions below this (percent) count as dry; on a 3x3 sub-pixel grid that
// allows up to 2 water sub-pixels
const waterFractionThreshold = 23

const (
	DefaultLandExpression     = "B869 > 0.1"
	DefaultCloudIceExpression = "B869 > 0.027"
	DefaultToaOORExpression   = "B869 > 0.1"
)

// WaterMask answers whether a location is water. fraction is the share of
// water in the pixel footprint in percent.
type WaterMask interface {
	Sample(lat, lon float64) (sample, fraction uint8)
}

// Rules holds the compiled detection expressions of a scene. It is immutable
// and can be shared by all tiles.
type Rules struct {
	land     *vm.Program
	cloudIce *vm.Program
	toaOOR   *vm.Program
}

// newEnv returns an evaluation environment with every variable the
// expressions may use.
func newEnv() map[string]any {
	env := map[string]any{
		"lat":         0.0,
		"lon":         0.0,
		"sunZenith":   0.0,
		"sunAzimuth":  0.0,
		"viewZenith":  0.0,
		"viewAzimuth": 0.0,
	}
	for _, b := range model.Bands {
		env[string(b.Band)] = 0.0
	}
	return env
}

func compile(name, src string) (*vm.Program, error) {
	p, err := expr.Compile(src, expr.Env(newEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile %s expression %q: %w", name, src, err)
	}
	return p, nil
}

// Compile compiles the land, cloud/ice and TOA out-of-range expressions. An
// empty land expression is allowed when a water mask decides land instead.
func Compile(land, cloudIce, toaOOR string) (*Rules, error) {
	var r Rules
	var err error

	if land != "" {
		if r.land, err = compile("land", land); err != nil {
			return nil, err
		}
	}
	if r.cloudIce, err = compile("cloud/ice", cloudIce); err != nil {
		return nil, err
	}
	if r.toaOOR, err = compile("TOA out of range", toaOOR); err != nil {
		return nil, err
	}
	return &r, nil
}

// NewClassifier returns a classifier evaluating r. With a non-nil mask, land
// comes from the mask instead of the land expression.
func (r *Rules) NewClassifier(mask WaterMask) (*Classifier, error) {
	if mask == nil && r.land == nil {
		return nil, fmt.Errorf("no land expression and no water mask")
	}
	return &Classifier{rules: r, mask: mask, env: newEnv()}, nil
}

// Classifier evaluates the detection rules for single pixels. It reuses its
// evaluation environment and is not safe for concurrent use.
type Classifier struct {
	rules *Rules
	mask  WaterMask
	env   map[string]any
}

func (c *Classifier) eval(p *vm.Program) (bool, error) {
	out, err := expr.Run(p, c.env)
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

func (c *Classifier) load(p *model.PixelSample) {
	for i, b := range model.Bands {
		c.env[string(b.Band)] = p.TOA[i]
	}
	c.env["lat"] = p.Lat
	c.env["lon"] = p.Lon
	c.env["sunZenith"] = p.SunZenith
	c.env["sunAzimuth"] = p.SunAzimuth
	c.env["viewZenith"] = p.ViewZenith
	c.env["viewAzimuth"] = p.ViewAzimuth
}

// Classify returns the classification bits of p. Land is decided first, the
// out-of-range test runs regardless, and cloud/ice is only set for pixels
// that are neither land nor out of range.
func (c *Classifier) Classify(p *model.PixelSample) (model.Flag, error) {
	c.load(p)

	var isLand bool
	if c.mask != nil {
		sample, fraction := c.mask.Sample(p.Lat, p.Lon)
		isLand = sample != WaterValue && fraction < waterFractionThreshold
	} else {
		v, err := c.eval(c.rules.land)
		if err != nil {
			return 0, fmt.Errorf("could not evaluate land expression: %w", err)
		}
		isLand = v
	}

	var f model.Flag
	if isLand {
		f |= model.Land
	}

	isOOR, err := c.eval(c.rules.toaOOR)
	if err != nil {
		return 0, fmt.Errorf("could not evaluate TOA out of range expression: %w", err)
	}
	if isOOR {
		f |= model.ToaOOR
	}

	if !isOOR && !isLand {
		isCloud, err := c.eval(c.rules.cloudIce)
		if err != nil {
			return 0, fmt.Errorf("could not evaluate cloud/ice expression: %w", err)
		}
		if isCloud {
			f |= model.CloudIce
		}
	}

	return f, nil
}

// Precomputed passes through the Validation bits a source already carries.
type Precomputed struct{}

func (Precomputed) Classify(p *model.PixelSample) (model.Flag, error) {
	return p.Validation & model.InvalidMask, nil
}
