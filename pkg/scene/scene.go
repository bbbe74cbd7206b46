// Package scene reads satellite scenes stored as a zip archive with one TIFF
// per raster and a YAML manifest.
package scene

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"math"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"github.com/project-spencer/wlr/pkg/model"
	"github.com/project-spencer/wlr/pkg/pipeline"
	"github.com/project-spencer/wlr/pkg/util"
)

// Geometry and location rasters every scene carries besides the bands.
const (
	Lat         = "lat"
	Lon         = "lon"
	SunZenith   = "solzen"
	SunAzimuth  = "solazi"
	ViewZenith  = "satzen"
	ViewAzimuth = "satazi"

	// optional
	Flags      = "flags"
	Validation = "validation"
)

const manifestName = "manifest.yaml"

var (
	ErrMissingRaster = errors.New("scene raster missing")
	ErrRasterSize    = errors.New("scene raster size mismatch")
)

// RequiredRasters lists the rasters without which a scene cannot be corrected.
func RequiredRasters() []string {
	names := make([]string, 0, model.NumBands+6)
	for _, b := range model.Bands {
		names = append(names, string(b.Band))
	}
	return append(names, Lat, Lon, SunZenith, SunAzimuth, ViewZenith, ViewAzimuth)
}

// Scaling converts stored integer samples into geophysical values.
type Scaling struct {
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

// Manifest describes a scene archive. Ozone (DU), Pressure (hPa) and
// Altitude (m) are constant over the scene; unset values are filled with
// the processor defaults.
type Manifest struct {
	Name     string             `yaml:"name"`
	Start    time.Time          `yaml:"start"`
	Ozone    *float64           `yaml:"ozone,omitempty"`
	Pressure *float64           `yaml:"pressure,omitempty"`
	Altitude *float64           `yaml:"altitude,omitempty"`
	Rasters  map[string]Scaling `yaml:"rasters,omitempty"`
}

// GobEncode stores the manifest as YAML. gob drops zero values behind
// pointers, which would turn an explicit altitude of 0 into an unset one.
func (m Manifest) GobEncode() ([]byte, error) {
	return yaml.Marshal(&m)
}

func (m *Manifest) GobDecode(b []byte) error {
	return yaml.Unmarshal(b, m)
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func (m *Manifest) scaling(name string) Scaling {
	s, ok := m.Rasters[name]
	if !ok || s.Scale == 0 {
		s.Scale = 1
	}
	return s
}

// Raster is a single geophysical layer in row-major order.
type Raster struct {
	Data []float32
}

// Scene is a fully loaded scene. It implements pipeline.Source.
type Scene struct {
	Manifest Manifest
	Width    int
	Height   int
	Rasters  map[string]*Raster
}

// New returns an empty scene of the given size.
func New(m Manifest, width, height int) *Scene {
	return &Scene{
		Manifest: m,
		Width:    width,
		Height:   height,
		Rasters:  make(map[string]*Raster),
	}
}

// Set stores a raster. data is row-major and must have width*height values.
func (s *Scene) Set(name string, data []float32) error {
	if len(data) != s.Width*s.Height {
		return fmt.Errorf("raster %s has %d values, want %d", name, len(data), s.Width*s.Height)
	}
	s.Rasters[name] = &Raster{Data: data}
	return nil
}

// SetDefaults fills unset atmosphere values of the manifest. Explicit
// values, zero included, are kept.
func (s *Scene) SetDefaults(ozone, pressure, altitude float64) {
	if s.Manifest.Ozone == nil {
		s.Manifest.Ozone = &ozone
	}
	if s.Manifest.Pressure == nil {
		s.Manifest.Pressure = &pressure
	}
	if s.Manifest.Altitude == nil {
		s.Manifest.Altitude = &altitude
	}
}

// Check returns an error wrapping ErrMissingRaster if a required raster is
// missing, and ErrRasterSize if any raster does not cover the scene.
func (s *Scene) Check() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: scene is %dx%d", ErrRasterSize, s.Width, s.Height)
	}
	for _, name := range RequiredRasters() {
		if _, ok := s.Rasters[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRaster, name)
		}
	}
	for name, r := range s.Rasters {
		if r == nil || len(r.Data) != s.Width*s.Height {
			n := 0
			if r != nil {
				n = len(r.Data)
			}
			return fmt.Errorf("%w: raster %s has %d values, want %d", ErrRasterSize, name, n, s.Width*s.Height)
		}
	}
	return nil
}

func (s *Scene) Name() string    { return s.Manifest.Name }
func (s *Scene) Time() time.Time { return s.Manifest.Start }

func (s *Scene) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.Width, s.Height)
}

// ViewZenithRow returns the view zenith angles of the first scan line.
func (s *Scene) ViewZenithRow() ([]float64, error) {
	r, ok := s.Rasters[ViewZenith]
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingRaster, ViewZenith)
	}
	if s.Width <= 0 || len(r.Data) < s.Width {
		return nil, fmt.Errorf("%w: %s has %d values, scene width is %d", ErrRasterSize, ViewZenith, len(r.Data), s.Width)
	}
	row := make([]float64, s.Width)
	for i := range row {
		row[i] = float64(r.Data[i])
	}
	return row, nil
}

func (s *Scene) value(name string, i int) float64 {
	r, ok := s.Rasters[name]
	if !ok {
		return math.NaN()
	}
	return float64(r.Data[i])
}

// ReadTile builds the pixel samples of r.
func (s *Scene) ReadTile(ctx context.Context, r image.Rectangle) (*pipeline.Tile, error) {
	if !r.In(s.Bounds()) {
		return nil, fmt.Errorf("tile %v outside scene %v", r, s.Bounds())
	}
	if err := s.Check(); err != nil {
		return nil, err
	}

	var bands [model.NumBands]*Raster
	for i, b := range model.Bands {
		bands[i] = s.Rasters[string(b.Band)]
	}
	flags, hasFlags := s.Rasters[Flags]
	validation, hasValidation := s.Rasters[Validation]
	f0 := model.SolarFluxes()
	ozone := orNaN(s.Manifest.Ozone)
	pressure := orNaN(s.Manifest.Pressure)
	altitude := orNaN(s.Manifest.Altitude)

	t := &pipeline.Tile{Rect: r, Pixels: make([]model.PixelSample, 0, r.Dx()*r.Dy())}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := r.Min.X; x < r.Max.X; x++ {
			i := y*s.Width + x
			p := model.PixelSample{
				X:           x,
				Y:           y,
				SolarFlux:   f0,
				Lat:         s.value(Lat, i),
				Lon:         s.value(Lon, i),
				SunZenith:   s.value(SunZenith, i),
				SunAzimuth:  s.value(SunAzimuth, i),
				ViewZenith:  s.value(ViewZenith, i),
				ViewAzimuth: s.value(ViewAzimuth, i),
				Ozone:       ozone,
				Pressure:    pressure,
				Altitude:    altitude,
			}
			for b, band := range bands {
				p.TOA[b] = float64(band.Data[i])
			}
			if hasFlags {
				p.Flags = int32(flags.Data[i])
			}
			if hasValidation {
				p.Validation = model.Flag(validation.Data[i])
			}
			t.Pixels = append(t.Pixels, p)
		}
	}
	return t, nil
}

// Footprint returns the bounding box of all valid pixel locations.
func (s *Scene) Footprint() orb.Bound {
	lat, lon := s.Rasters[Lat], s.Rasters[Lon]
	if lat == nil || lon == nil || len(lat.Data) != len(lon.Data) {
		return orb.Bound{}
	}

	var b orb.Bound
	first := true
	for i := range lat.Data {
		p := orb.Point{float64(lon.Data[i]), float64(lat.Data[i])}
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			continue
		}
		if first {
			b = p.Bound()
			first = false
			continue
		}
		b = b.Extend(p)
	}
	return b
}

// Read decodes a scene archive.
func Read(r io.ReaderAt, size int64) (*Scene, error) {
	files, err := util.ReadZip(r, size)
	if err != nil {
		return nil, err
	}
	return fromFiles(files)
}

// Open reads the scene archive at path.
func Open(path string) (*Scene, error) {
	t1 := time.Now()
	files, err := util.ReadZipFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read scene %s: %w", path, err)
	}
	s, err := fromFiles(files)
	if err != nil {
		return nil, fmt.Errorf("could not read scene %s: %w", path, err)
	}
	t2 := time.Now()
	log.Printf("loaded scene %s (%dx%d, %d rasters) in %s", s.Name(), s.Width, s.Height, len(s.Rasters), t2.Sub(t1))
	return s, nil
}

func fromFiles(files map[string][]byte) (*Scene, error) {
	m, ok := files[manifestName]
	if !ok {
		return nil, fmt.Errorf("no %s in archive", manifestName)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(m, &manifest); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", manifestName, err)
	}

	var s *Scene
	for _, name := range append(RequiredRasters(), Flags, Validation) {
		data, ok := files[name+".tiff"]
		if !ok {
			continue
		}
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("could not decode %s: %w", name, err)
		}
		b := img.Bounds()
		if s == nil {
			s = New(manifest, b.Dx(), b.Dy())
		}
		if b.Dx() != s.Width || b.Dy() != s.Height {
			return nil, fmt.Errorf("raster %s is %dx%d, scene is %dx%d", name, b.Dx(), b.Dy(), s.Width, s.Height)
		}
		s.Rasters[name] = &Raster{Data: samples(img, manifest.scaling(name))}
	}
	if s == nil {
		return nil, fmt.Errorf("%w: archive has no rasters", ErrMissingRaster)
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

// samples converts raw gray values to geophysical values.
func samples(img image.Image, sc Scaling) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy())

	switch g := img.(type) {
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float32(float64(g.Gray16At(x, y).Y)*sc.Scale+sc.Offset))
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out = append(out, float32(float64(g.GrayAt(x, y).Y)*sc.Scale+sc.Offset))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
				out = append(out, float32(float64(v)*sc.Scale+sc.Offset))
			}
		}
	}
	return out
}

// Write stores s as a scene archive. Rasters are quantized to 16 bit with
// the manifest scaling; values outside the range are clamped.
func (s *Scene) Write(w io.Writer) error {
	files := make(map[string][]byte, len(s.Rasters)+1)

	m, err := yaml.Marshal(&s.Manifest)
	if err != nil {
		return fmt.Errorf("could not encode manifest: %w", err)
	}
	files[manifestName] = m

	for name, r := range s.Rasters {
		sc := s.Manifest.scaling(name)
		img := image.NewGray16(s.Bounds())
		for i, v := range r.Data {
			raw := math.Round((float64(v) - sc.Offset) / sc.Scale)
			if math.IsNaN(raw) {
				raw = 0
			}
			raw = math.Max(0, math.Min(math.MaxUint16, raw))
			img.SetGray16(i%s.Width, i/s.Width, color.Gray16{Y: uint16(raw)})
		}

		var b bytes.Buffer
		if err := tiff.Encode(&b, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return fmt.Errorf("could not encode %s: %w", name, err)
		}
		files[name+".tiff"] = b.Bytes()
	}

	return util.WriteZip(w, files)
}

// Encode writes s in gob format.
func (s *Scene) Encode(w io.Writer) error {
	return gob.NewEncoder(w).Encode(s)
}

// Decode reads a gob encoded scene and checks that it is complete.
func Decode(r io.Reader) (*Scene, error) {
	var s Scene
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("could not decode scene: %w", err)
	}
	if err := s.Check(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	return &s, nil
}
