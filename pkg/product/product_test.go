package product

import (
	"bytes"
	"image"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"github.com/project-spencer/wlr/pkg/model"
	ziputil "github.com/project-spencer/wlr/pkg/util"
)

// 4x2 product: left half valid with reflectance x/100, (2,0) cloudy, the
// rest land
func testProduct(t *testing.T, withTosa bool) *Product {
	t.Helper()

	p := New("test", time.Date(2022, time.March, 1, 12, 0, 0, 0, time.UTC), image.Rect(0, 0, 4, 2), withTosa)

	tile := func(r image.Rectangle) []model.Result {
		var out []model.Result
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				var res model.Result
				switch {
				case x < 2:
					for b := range res.Reflec {
						res.Reflec[b] = float64(x+1) / 100
						res.Tosa[b] = 0.1
					}
				case x == 2 && y == 0:
					res.Flag = model.Invalid | model.CloudIce
				default:
					res.Flag = model.Invalid | model.Land
				}
				out = append(out, res)
			}
		}
		return out
	}

	for _, r := range []image.Rectangle{image.Rect(0, 0, 2, 2), image.Rect(2, 0, 4, 2)} {
		require.NoError(t, p.WriteTile(r, tile(r)))
	}
	return p
}

func fillGeometry(t *testing.T, p *Product) {
	t.Helper()
	for i, name := range []string{"satazi", "solazi", "satzen", "solzen"} {
		data := make([]float32, 8)
		for j := range data {
			data[j] = float32(10*(i+1) + j)
		}
		require.NoError(t, p.SetGeometry(name, data))
	}
}

func TestWriteTileChecks(t *testing.T) {
	p := New("test", time.Time{}, image.Rect(0, 0, 4, 2), false)
	assert.Error(t, p.WriteTile(image.Rect(2, 0, 6, 2), make([]model.Result, 8)))
	assert.Error(t, p.WriteTile(image.Rect(0, 0, 2, 2), make([]model.Result, 3)))
}

func TestSetGeometry(t *testing.T) {
	p := testProduct(t, false)
	assert.Error(t, p.SetGeometry("solzen", make([]float32, 3)))
	assert.Nil(t, p.Geometry("solzen"))

	fillGeometry(t, p)
	require.NoError(t, p.SetGeometry("solzen", make([]float32, 8)))
	assert.Equal(t, []string{"satazi", "solazi", "satzen", "solzen"}, p.geomNames)
	assert.Equal(t, float32(0), p.Geometry("solzen")[7])
	assert.Equal(t, float32(17), p.Geometry("satazi")[7])
}

func TestSummary(t *testing.T) {
	s := testProduct(t, false).Summary()

	assert.Equal(t, "test", s.Name)
	assert.Equal(t, 8, s.Pixels)
	assert.Equal(t, 4, s.Valid)
	assert.Equal(t, 3, s.Land)
	assert.Equal(t, 1, s.CloudIce)
	assert.Equal(t, 0, s.ToaOOR)
	assert.InDelta(t, 0.125, s.CloudCover, 1e-12)
	assert.InDelta(t, 0.625, s.WaterCover, 1e-12)
	assert.InDelta(t, 0.5, s.ValidFraction, 1e-12)

	require.Len(t, s.Bands, model.NumBands)
	assert.Equal(t, "B412", s.Bands[0].Band)
	for _, b := range s.Bands {
		assert.InDelta(t, 0.015, b.Mean, 1e-7)
		// sample standard deviation of {0.01, 0.01, 0.02, 0.02}
		assert.InDelta(t, math.Sqrt(0.0001/3), b.StdDev, 1e-7)
	}
}

func TestSummaryEmpty(t *testing.T) {
	s := New("empty", time.Time{}, image.Rect(0, 0, 2, 2), false).Summary()
	assert.Equal(t, 4, s.Valid)

	p := New("land", time.Time{}, image.Rect(0, 0, 1, 1), false)
	require.NoError(t, p.WriteTile(image.Rect(0, 0, 1, 1), []model.Result{{Flag: model.Invalid | model.Land}}))
	s = p.Summary()
	assert.Equal(t, 0, s.Valid)
	assert.Equal(t, 0.0, s.Bands[0].Mean)
}

func TestWriteNetCDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "product.nc")
	p := testProduct(t, true)
	fillGeometry(t, p)
	require.NoError(t, p.WriteNetCDF(path))

	nc, err := netcdf.Open(path)
	require.NoError(t, err)
	defer nc.Close()

	v, err := nc.GetVariable("refl_443")
	require.NoError(t, err)
	refl, ok := v.Values.([][]float32)
	require.True(t, ok, "unexpected type %T", v.Values)
	require.Len(t, refl, 2)
	assert.InDelta(t, 0.02, refl[1][1], 1e-7)
	assert.True(t, math.IsNaN(float64(refl[0][2])))

	_, err = nc.GetVariable("tosa_869")
	assert.NoError(t, err)

	v, err = nc.GetVariable("ac_flags")
	require.NoError(t, err)
	flags, ok := v.Values.([][]int16)
	require.True(t, ok, "unexpected type %T", v.Values)
	assert.Equal(t, int16(model.Invalid|model.CloudIce), flags[0][2])
	assert.Equal(t, int16(0), flags[0][0])

	v, err = nc.GetVariable("solzen")
	require.NoError(t, err)
	solzen, ok := v.Values.([][]float32)
	require.True(t, ok, "unexpected type %T", v.Values)
	// geometry is not masked
	assert.Equal(t, float32(47), solzen[1][3])
	units, ok := v.Attributes.Get("units")
	require.True(t, ok)
	assert.Equal(t, "degrees", units)
}

func TestWriteNetCDFWithoutTosa(t *testing.T) {
	path := filepath.Join(t.TempDir(), "product.nc")
	require.NoError(t, testProduct(t, false).WriteNetCDF(path))

	nc, err := netcdf.Open(path)
	require.NoError(t, err)
	defer nc.Close()

	_, err = nc.GetVariable("tosa_869")
	assert.Error(t, err)
}

func decodeGray16(t *testing.T, files map[string][]byte, name string) *image.Gray16 {
	t.Helper()
	img, err := tiff.Decode(bytes.NewReader(files[name]))
	require.NoError(t, err, name)
	g, ok := img.(*image.Gray16)
	require.True(t, ok, "unexpected type %T", img)
	return g
}

func TestWriteTIFFArchive(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, testProduct(t, false).WriteTIFFArchive(&b))

	files, err := ziputil.ReadZip(bytes.NewReader(b.Bytes()), int64(b.Len()))
	require.NoError(t, err)
	assert.Len(t, files, model.NumBands+3)
	assert.NotContains(t, files, "tosa_547.tiff")

	// (0.01 + 0.05) / 1e-4
	g := decodeGray16(t, files, "refl_547.tiff")
	assert.Equal(t, uint16(600), g.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(700), g.Gray16At(1, 1).Y)
	assert.Equal(t, uint16(0), g.Gray16At(3, 1).Y)

	g = decodeGray16(t, files, "ac_flags.tiff")
	assert.Equal(t, uint16(model.Invalid|model.Land), g.Gray16At(3, 1).Y)

	var s Summary
	require.NoError(t, yaml.Unmarshal(files["summary.yaml"], &s))
	assert.Equal(t, 4, s.Valid)
	assert.InDelta(t, 0.625, s.WaterCover, 1e-12)

	var m archiveManifest
	require.NoError(t, yaml.Unmarshal(files["manifest.yaml"], &m))
	assert.Equal(t, "test", m.Name)
	assert.Equal(t, ReflectanceScaling, m.Rasters["refl_547"])
	assert.Len(t, m.Rasters, model.NumBands)
}

func TestWriteTIFFArchiveWithTosaAndGeometry(t *testing.T) {
	p := testProduct(t, true)
	fillGeometry(t, p)

	var b bytes.Buffer
	require.NoError(t, p.WriteTIFFArchive(&b))

	files, err := ziputil.ReadZip(bytes.NewReader(b.Bytes()), int64(b.Len()))
	require.NoError(t, err)
	assert.Len(t, files, 2*model.NumBands+4+3)

	var m archiveManifest
	require.NoError(t, yaml.Unmarshal(files["manifest.yaml"], &m))

	g := decodeGray16(t, files, "tosa_869.tiff")
	sc := m.Rasters["tosa_869"]
	assert.InDelta(t, 0.1, float64(g.Gray16At(1, 0).Y)*sc.Scale+sc.Offset, 1e-9)
	assert.Equal(t, uint16(0), g.Gray16At(2, 0).Y)

	for _, name := range []string{"satazi", "solazi", "satzen", "solzen"} {
		require.Contains(t, files, name+".tiff")
		assert.Equal(t, AngleScaling, m.Rasters[name])
	}
	g = decodeGray16(t, files, "solzen.tiff")
	sc = m.Rasters["solzen"]
	// land pixel, angles are kept
	assert.InDelta(t, 47, float64(g.Gray16At(3, 1).Y)*sc.Scale+sc.Offset, 1e-9)
}

func TestQuantize(t *testing.T) {
	sc := ReflectanceScaling
	assert.Equal(t, uint16(400), sc.quantize(-0.01))
	assert.Equal(t, uint16(1), sc.quantize(-1))
	assert.Equal(t, uint16(0), sc.quantize(float32(math.NaN())))
	assert.Equal(t, uint16(623), sc.quantize(0.0123))
	assert.Equal(t, uint16(math.MaxUint16), sc.quantize(100))

	assert.Equal(t, uint16(2000), AngleScaling.quantize(-180))
	assert.Equal(t, uint16(56000), AngleScaling.quantize(360))
}
