package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-spencer/wlr/pkg/model"
)

type fixedMask struct {
	sample, fraction uint8
}

func (m fixedMask) Sample(lat, lon float64) (uint8, uint8) { return m.sample, m.fraction }

func pixelWith869(v float64) *model.PixelSample {
	p := &model.PixelSample{}
	for i := range p.TOA {
		p.TOA[i] = 0.01
	}
	p.TOA[model.BandIndex(model.B869)] = v
	return p
}

func defaultRules(t *testing.T) *Rules {
	r, err := Compile(DefaultLandExpression, DefaultCloudIceExpression, DefaultToaOORExpression)
	require.NoError(t, err)
	return r
}

func TestClassifyExpressions(t *testing.T) {
	c, err := defaultRules(t).NewClassifier(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		b869 float64
		want model.Flag
	}{
		{"clear water", 0.01, 0},
		{"cloud", 0.05, model.CloudIce},
		// land and out of range share the expression; cloud is suppressed
		{"bright", 0.2, model.Land | model.ToaOOR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := c.Classify(pixelWith869(tt.b869))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestClassifyCloudNeedsWaterAndRange(t *testing.T) {
	r, err := Compile("lat > 50", "B869 > 0.027", "B412 > 0.5")
	require.NoError(t, err)
	c, err := r.NewClassifier(nil)
	require.NoError(t, err)

	p := pixelWith869(0.05)
	f, err := c.Classify(p)
	require.NoError(t, err)
	assert.Equal(t, model.CloudIce, f)

	p.Lat = 60
	f, err = c.Classify(p)
	require.NoError(t, err)
	assert.Equal(t, model.Land, f)

	p.Lat = 0
	p.TOA[0] = 0.7
	f, err = c.Classify(p)
	require.NoError(t, err)
	assert.Equal(t, model.ToaOOR, f)
}

func TestClassifyWaterMask(t *testing.T) {
	// the land expression would flag everything
	r, err := Compile("true", "false", "false")
	require.NoError(t, err)

	tests := []struct {
		name string
		mask fixedMask
		want model.Flag
	}{
		{"water", fixedMask{WaterValue, 100}, 0},
		{"land", fixedMask{LandValue, 0}, model.Land},
		{"land with water fraction", fixedMask{LandValue, 33}, 0},
		{"land with two water sub-pixels", fixedMask{LandValue, 22}, model.Land},
		{"invalid", fixedMask{InvalidValue, InvalidValue}, model.Land},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.NewClassifier(tt.mask)
			require.NoError(t, err)
			f, err := c.Classify(pixelWith869(0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("B999 > 1", "false", "false")
	assert.Error(t, err)

	_, err = Compile("B869 + 1", "false", "false")
	assert.Error(t, err, "non boolean expression")

	r, err := Compile("", "false", "false")
	require.NoError(t, err)
	_, err = r.NewClassifier(nil)
	assert.Error(t, err)
	_, err = r.NewClassifier(fixedMask{WaterValue, 100})
	assert.NoError(t, err)
}

func TestPrecomputed(t *testing.T) {
	p := &model.PixelSample{Validation: model.Land | model.CloudIce | 0x40}
	f, err := Precomputed{}.Classify(p)
	require.NoError(t, err)
	assert.Equal(t, model.Land|model.CloudIce, f)
}

func TestCoverage(t *testing.T) {
	flags := []uint16{
		0,
		uint16(model.Invalid | model.CloudIce),
		uint16(model.Invalid | model.Land),
		uint16(model.Invalid | model.CloudIce),
	}
	assert.Equal(t, 0.5, CloudCover(flags))
	assert.Equal(t, 0.75, WaterCover(flags))
	assert.Equal(t, 0.0, CloudCover(nil))
}
