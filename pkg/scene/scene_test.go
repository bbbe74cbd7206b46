package scene

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-spencer/wlr/pkg/model"
	"github.com/project-spencer/wlr/pkg/util"
)

const (
	testWidth  = 6
	testHeight = 4
)

func ptr(v float64) *float64 { return &v }

func testManifest() Manifest {
	m := Manifest{
		Name:  "A2022060120000",
		Start: time.Date(2022, time.March, 1, 12, 0, 0, 0, time.UTC),
		Ozone: ptr(320),
		Rasters: map[string]Scaling{
			Lat:         {Scale: 0.01, Offset: -90},
			Lon:         {Scale: 0.01, Offset: -180},
			SunZenith:   {Scale: 0.01},
			SunAzimuth:  {Scale: 0.01},
			ViewZenith:  {Scale: 0.01},
			ViewAzimuth: {Scale: 0.01},
		},
	}
	for _, b := range model.Bands {
		m.Rasters[string(b.Band)] = Scaling{Scale: 1e-4}
	}
	return m
}

func fillRaster(f func(x, y int) float32) []float32 {
	out := make([]float32, testWidth*testHeight)
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			out[y*testWidth+x] = f(x, y)
		}
	}
	return out
}

func testScene(t *testing.T) *Scene {
	t.Helper()

	s := New(testManifest(), testWidth, testHeight)
	for i, b := range model.Bands {
		v := float32(0.01 * float64(i+1))
		require.NoError(t, s.Set(string(b.Band), fillRaster(func(x, y int) float32 { return v })))
	}
	require.NoError(t, s.Set(Lat, fillRaster(func(x, y int) float32 { return 54 + float32(y)/10 })))
	require.NoError(t, s.Set(Lon, fillRaster(func(x, y int) float32 { return 10 + float32(x)/10 })))
	require.NoError(t, s.Set(SunZenith, fillRaster(func(x, y int) float32 { return 40 })))
	require.NoError(t, s.Set(SunAzimuth, fillRaster(func(x, y int) float32 { return 10 })))
	require.NoError(t, s.Set(ViewZenith, fillRaster(func(x, y int) float32 { return float32(math.Abs(float64(x-2))) * 5 })))
	require.NoError(t, s.Set(ViewAzimuth, fillRaster(func(x, y int) float32 { return 100 })))
	return s
}

func TestSetChecksSize(t *testing.T) {
	s := New(testManifest(), testWidth, testHeight)
	assert.Error(t, s.Set(Lat, make([]float32, 3)))
}

func TestCheck(t *testing.T) {
	s := testScene(t)
	require.NoError(t, s.Check())

	delete(s.Rasters, SunAzimuth)
	assert.True(t, errors.Is(s.Check(), ErrMissingRaster))
}

func TestCheckRasterSize(t *testing.T) {
	s := testScene(t)
	s.Rasters[string(model.B412)] = &Raster{Data: make([]float32, 2)}
	assert.True(t, errors.Is(s.Check(), ErrRasterSize))

	s = testScene(t)
	s.Rasters[Flags] = &Raster{Data: make([]float32, testWidth)}
	assert.True(t, errors.Is(s.Check(), ErrRasterSize))

	s = testScene(t)
	s.Rasters[Validation] = nil
	assert.True(t, errors.Is(s.Check(), ErrRasterSize))
}

// A gob stream carrying rasters shorter than the scene must be rejected
// instead of panicking later in ReadTile.
func TestDecodeShortRasters(t *testing.T) {
	s := New(testManifest(), 4, 4)
	for _, name := range RequiredRasters() {
		s.Rasters[name] = &Raster{Data: []float32{1, 2}}
	}

	var b bytes.Buffer
	require.NoError(t, s.Encode(&b))

	_, err := Decode(&b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRasterSize))

	assert.NotPanics(t, func() {
		_, err = s.ReadTile(context.Background(), s.Bounds())
	})
	assert.True(t, errors.Is(err, ErrRasterSize))

	_, err = s.ViewZenithRow()
	assert.True(t, errors.Is(err, ErrRasterSize))
}

func TestReadTile(t *testing.T) {
	s := testScene(t)
	s.SetDefaults(350, 1013.25, 0)
	require.NoError(t, s.Set(Validation, fillRaster(func(x, y int) float32 {
		if x == 1 && y == 2 {
			return float32(model.Land)
		}
		return 0
	})))

	r := image.Rect(1, 1, 4, 3)
	tile, err := s.ReadTile(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, tile.Pixels, 6)

	p := tile.At(1, 2)
	assert.Equal(t, 1, p.X)
	assert.Equal(t, 2, p.Y)
	assert.Equal(t, model.Land, p.Validation)
	assert.InDelta(t, 54.2, p.Lat, 1e-5)
	assert.InDelta(t, 10.1, p.Lon, 1e-5)
	assert.InDelta(t, 5, p.ViewZenith, 1e-5)
	assert.InDelta(t, 0.09, p.TOA[model.BandIndex(model.B869)], 1e-7)
	assert.Equal(t, model.SolarFluxes(), p.SolarFlux)

	// manifest wins over the defaults
	assert.Equal(t, 320.0, p.Ozone)
	assert.Equal(t, 1013.25, p.Pressure)
	assert.Equal(t, 0.0, p.Altitude)

	assert.Equal(t, model.Flag(0), tile.At(3, 2).Validation)

	_, err = s.ReadTile(context.Background(), image.Rect(4, 0, 8, 2))
	assert.Error(t, err)
}

func TestReadTileUnsetAtmosphere(t *testing.T) {
	s := testScene(t)
	s.Manifest.Ozone = nil

	tile, err := s.ReadTile(context.Background(), image.Rect(0, 0, 1, 1))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(tile.Pixels[0].Ozone))
	assert.True(t, math.IsNaN(tile.Pixels[0].Altitude))
}

func TestSetDefaultsKeepsExplicitZero(t *testing.T) {
	s := testScene(t)
	s.Manifest.Altitude = ptr(0)
	s.SetDefaults(350, 1013.25, 120)

	require.NotNil(t, s.Manifest.Altitude)
	assert.Equal(t, 0.0, *s.Manifest.Altitude)
	assert.Equal(t, 320.0, *s.Manifest.Ozone)
	assert.Equal(t, 1013.25, *s.Manifest.Pressure)

	s.Manifest.Altitude = nil
	s.SetDefaults(350, 1013.25, 120)
	assert.Equal(t, 120.0, *s.Manifest.Altitude)
}

func TestExplicitZeroAltitudeSurvivesEncoding(t *testing.T) {
	s := testScene(t)
	s.Manifest.Altitude = ptr(0)

	var zb bytes.Buffer
	require.NoError(t, s.Write(&zb))
	fromZip, err := Read(bytes.NewReader(zb.Bytes()), int64(zb.Len()))
	require.NoError(t, err)

	var gb bytes.Buffer
	require.NoError(t, s.Encode(&gb))
	fromGob, err := Decode(&gb)
	require.NoError(t, err)

	for name, got := range map[string]*Scene{"archive": fromZip, "gob": fromGob} {
		require.NotNil(t, got.Manifest.Altitude, name)
		assert.Equal(t, 0.0, *got.Manifest.Altitude, name)
		assert.Nil(t, got.Manifest.Pressure, name)
		require.NotNil(t, got.Manifest.Ozone, name)
		assert.Equal(t, 320.0, *got.Manifest.Ozone, name)

		got.SetDefaults(350, 1013.25, 120)
		assert.Equal(t, 0.0, *got.Manifest.Altitude, name)
		assert.Equal(t, 1013.25, *got.Manifest.Pressure, name)
	}
}

func TestViewZenithRow(t *testing.T) {
	row, err := testScene(t).ViewZenithRow()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 5, 0, 5, 10, 15}, row)
}

func TestFootprint(t *testing.T) {
	s := testScene(t)
	s.Rasters[Lat].Data[0] = float32(math.NaN())

	b := s.Footprint()
	assert.InDelta(t, 10.0, b.Min.X(), 1e-5)
	assert.InDelta(t, 10.5, b.Max.X(), 1e-5)
	assert.InDelta(t, 54.0, b.Min.Y(), 1e-5)
	assert.InDelta(t, 54.3, b.Max.Y(), 1e-5)
	assert.True(t, b.Contains(orb.Point{10.2, 54.1}))
}

func TestArchiveRoundTrip(t *testing.T) {
	s := testScene(t)
	require.NoError(t, s.Set(Flags, fillRaster(func(x, y int) float32 { return float32(x) })))

	var b bytes.Buffer
	require.NoError(t, s.Write(&b))

	got, err := Read(bytes.NewReader(b.Bytes()), int64(b.Len()))
	require.NoError(t, err)

	assert.Equal(t, s.Manifest.Name, got.Name())
	assert.True(t, s.Time().Equal(got.Time()))
	assert.Equal(t, s.Bounds(), got.Bounds())
	require.Len(t, got.Rasters, len(s.Rasters))

	for name, r := range s.Rasters {
		tol := s.Manifest.scaling(name).Scale
		for i, v := range r.Data {
			assert.InDelta(t, v, got.Rasters[name].Data[i], tol, "%s[%d]", name, i)
		}
	}

	tile, err := got.ReadTile(context.Background(), got.Bounds())
	require.NoError(t, err)
	assert.Equal(t, int32(4), tile.At(4, 1).Flags)
}

func TestReadRejectsBadArchives(t *testing.T) {
	read := func(files map[string][]byte) error {
		var b bytes.Buffer
		require.NoError(t, util.WriteZip(&b, files))
		_, err := Read(bytes.NewReader(b.Bytes()), int64(b.Len()))
		return err
	}

	assert.Error(t, read(map[string][]byte{"B412.tiff": {}}), "no manifest")
	assert.Error(t, read(map[string][]byte{manifestName: []byte("name: [")}), "bad manifest")

	err := read(map[string][]byte{manifestName: []byte("name: x\n")})
	assert.True(t, errors.Is(err, ErrMissingRaster))

	// drop one band from a valid archive
	var b bytes.Buffer
	require.NoError(t, testScene(t).Write(&b))
	files, err := util.ReadZip(bytes.NewReader(b.Bytes()), int64(b.Len()))
	require.NoError(t, err)
	delete(files, "B531.tiff")
	assert.True(t, errors.Is(read(files), ErrMissingRaster))
}

func TestGobRoundTrip(t *testing.T) {
	s := testScene(t)

	var b bytes.Buffer
	require.NoError(t, s.Encode(&b))

	got, err := Decode(&b)
	require.NoError(t, err)
	assert.Equal(t, s.Manifest.Name, got.Manifest.Name)
	assert.True(t, s.Time().Equal(got.Time()))
	assert.Equal(t, s.Manifest.Rasters, got.Manifest.Rasters)
	assert.Equal(t, s.Rasters[Lon].Data, got.Rasters[Lon].Data)
	assert.Equal(t, s.Width, got.Width)
}
