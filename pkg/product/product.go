// Package product collects corrected tiles and writes them as NetCDF or as a
// zip archive of TIFFs.
package product

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"math"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/project-spencer/wlr/pkg/classify"
	"github.com/project-spencer/wlr/pkg/model"
	ziputil "github.com/project-spencer/wlr/pkg/util"
)

// Scaling maps the 16 bit TIFF samples of the archive to geophysical
// values: v = raw*Scale + Offset. Raw 0 is the fill value.
type Scaling struct {
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

var (
	// slightly negative reflectances from the network are kept
	ReflectanceScaling = Scaling{Scale: 1e-4, Offset: -0.05}
	AngleScaling       = Scaling{Scale: 0.01, Offset: -200}
)

// quantize returns the raw sample of v, clamped to [1, 65535]. NaN becomes
// the fill value.
func (sc Scaling) quantize(v float32) uint16 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	raw := math.Round((float64(v) - sc.Offset) / sc.Scale)
	return uint16(math.Max(1, math.Min(raw, math.MaxUint16)))
}

// Product holds the corrected rasters of a scene. It implements
// pipeline.Sink; tiles must not overlap.
type Product struct {
	Name  string
	Start time.Time

	width, height int
	withTosa      bool

	reflec [model.NumBands][]float32
	tosa   [model.NumBands][]float32
	flags  []uint16

	// angle rasters copied from the scene, in insertion order
	geomNames []string
	geom      map[string][]float32
}

// New returns an empty product for a scene of the given size. TOSA
// reflectance is only kept when withTosa is set.
func New(name string, start time.Time, bounds image.Rectangle, withTosa bool) *Product {
	p := &Product{
		Name:     name,
		Start:    start,
		width:    bounds.Dx(),
		height:   bounds.Dy(),
		withTosa: withTosa,
		flags:    make([]uint16, bounds.Dx()*bounds.Dy()),
		geom:     make(map[string][]float32),
	}
	n := p.width * p.height
	for b := range p.reflec {
		p.reflec[b] = make([]float32, n)
		if withTosa {
			p.tosa[b] = make([]float32, n)
		}
	}
	return p
}

func (p *Product) Bounds() image.Rectangle { return image.Rect(0, 0, p.width, p.height) }

// Reflectance returns the water-leaving reflectance raster of band b.
func (p *Product) Reflectance(b int) []float32 { return p.reflec[b] }

func (p *Product) Flags() []uint16 { return p.flags }

// SetGeometry stores an angle raster (degrees) that is written unchanged
// next to the reflectances. data is row-major and must cover the product.
func (p *Product) SetGeometry(name string, data []float32) error {
	if len(data) != p.width*p.height {
		return fmt.Errorf("geometry %s has %d values, want %d", name, len(data), p.width*p.height)
	}
	if _, ok := p.geom[name]; !ok {
		p.geomNames = append(p.geomNames, name)
	}
	p.geom[name] = data
	return nil
}

// Geometry returns the angle raster stored under name, or nil.
func (p *Product) Geometry(name string) []float32 { return p.geom[name] }

func (p *Product) WriteTile(r image.Rectangle, results []model.Result) error {
	if !r.In(p.Bounds()) {
		return fmt.Errorf("tile %v outside product %v", r, p.Bounds())
	}
	if len(results) != r.Dx()*r.Dy() {
		return fmt.Errorf("tile %v has %d results", r, len(results))
	}

	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			res := &results[i]
			j := y*p.width + x
			for b := 0; b < model.NumBands; b++ {
				p.reflec[b][j] = float32(res.Reflec[b])
				if p.withTosa {
					p.tosa[b][j] = float32(res.Tosa[b])
				}
			}
			p.flags[j] = uint16(res.Flag)
			i++
		}
	}
	return nil
}

// BandSummary holds statistics over the valid pixels of one band.
type BandSummary struct {
	Band   string  `json:"band" yaml:"band"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
}

type Summary struct {
	Name          string        `json:"name" yaml:"name"`
	Pixels        int           `json:"pixels" yaml:"pixels"`
	Valid         int           `json:"valid" yaml:"valid"`
	Land          int           `json:"land" yaml:"land"`
	CloudIce      int           `json:"cloud_ice" yaml:"cloud_ice"`
	ToaOOR        int           `json:"toa_oor" yaml:"toa_oor"`
	CloudCover    float64       `json:"cloud_cover" yaml:"cloud_cover"`
	WaterCover    float64       `json:"water_cover" yaml:"water_cover"`
	ValidFraction float64       `json:"valid_fraction" yaml:"valid_fraction"`
	Bands         []BandSummary `json:"bands" yaml:"bands"`
}

func (p *Product) Summary() Summary {
	s := Summary{Name: p.Name, Pixels: len(p.flags)}

	valid := make([]int, 0, len(p.flags))
	for i, f := range p.flags {
		fl := model.Flag(f)
		if !fl.Has(model.Invalid) {
			s.Valid++
			valid = append(valid, i)
		}
		if fl.Has(model.Land) {
			s.Land++
		}
		if fl.Has(model.CloudIce) {
			s.CloudIce++
		}
		if fl.Has(model.ToaOOR) {
			s.ToaOOR++
		}
	}
	s.CloudCover = classify.CloudCover(p.flags)
	s.WaterCover = classify.WaterCover(p.flags)
	if s.Pixels > 0 {
		s.ValidFraction = float64(s.Valid) / float64(s.Pixels)
	}

	x := make([]float64, len(valid))
	for b, info := range model.Bands {
		bs := BandSummary{Band: string(info.Band)}
		if len(valid) > 0 {
			for k, i := range valid {
				x[k] = float64(p.reflec[b][i])
			}
			bs.Mean, bs.StdDev = stat.MeanStdDev(x, nil)
			if len(valid) == 1 {
				bs.StdDev = 0
			}
		}
		s.Bands = append(s.Bands, bs)
	}
	return s
}

func (p *Product) rows(v []float32, nan bool) [][]float32 {
	out := make([][]float32, p.height)
	for y := range out {
		row := make([]float32, p.width)
		copy(row, v[y*p.width:(y+1)*p.width])
		if nan {
			for x := range row {
				if model.Flag(p.flags[y*p.width+x]).Has(model.Invalid) {
					row[x] = float32(math.NaN())
				}
			}
		}
		out[y] = row
	}
	return out
}

func attrs(keys []string, vals map[string]interface{}) *util.OrderedMap {
	m, err := util.NewOrderedMap(keys, vals)
	if err != nil {
		// keys and values are built together below
		panic(err)
	}
	return m
}

// WriteNetCDF writes the product as a NetCDF classic file. Invalid pixels
// are NaN in the reflectance variables.
func (p *Product) WriteNetCDF(path string) error {
	t1 := time.Now()

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("could not create product %s: %w", path, err)
	}

	err = cw.AddGlobalAttrs(attrs([]string{"title", "start_time"}, map[string]interface{}{
		"title":      p.Name,
		"start_time": p.Start.UTC().Format(time.RFC3339),
	}))
	if err != nil {
		cw.Close()
		return fmt.Errorf("could not add global attributes: %w", err)
	}

	dims := []string{"y", "x"}
	for b, info := range model.Bands {
		wl := int(info.Wavelength)
		err := cw.AddVar(fmt.Sprintf("refl_%d", wl), api.Variable{
			Values:     p.rows(p.reflec[b], true),
			Dimensions: dims,
			Attributes: attrs([]string{"long_name", "wavelength"}, map[string]interface{}{
				"long_name":  "water leaving reflectance",
				"wavelength": float32(info.Wavelength),
			}),
		})
		if err != nil {
			cw.Close()
			return fmt.Errorf("could not add reflectance %d: %w", wl, err)
		}

		if !p.withTosa {
			continue
		}
		err = cw.AddVar(fmt.Sprintf("tosa_%d", wl), api.Variable{
			Values:     p.rows(p.tosa[b], true),
			Dimensions: dims,
			Attributes: attrs([]string{"long_name", "wavelength"}, map[string]interface{}{
				"long_name":  "top of standard atmosphere reflectance",
				"wavelength": float32(info.Wavelength),
			}),
		})
		if err != nil {
			cw.Close()
			return fmt.Errorf("could not add TOSA reflectance %d: %w", wl, err)
		}
	}

	for _, name := range p.geomNames {
		err := cw.AddVar(name, api.Variable{
			Values:     p.rows(p.geom[name], false),
			Dimensions: dims,
			Attributes: attrs([]string{"units"}, map[string]interface{}{
				"units": "degrees",
			}),
		})
		if err != nil {
			cw.Close()
			return fmt.Errorf("could not add geometry %s: %w", name, err)
		}
	}

	// the classic format has no unsigned 16 bit type
	flags := make([][]int16, p.height)
	for y := range flags {
		flags[y] = make([]int16, p.width)
		for x := range flags[y] {
			flags[y][x] = int16(p.flags[y*p.width+x])
		}
	}
	err = cw.AddVar("ac_flags", api.Variable{
		Values:     flags,
		Dimensions: dims,
		Attributes: attrs([]string{"flag_masks", "flag_meanings"}, map[string]interface{}{
			"flag_masks":    []int16{int16(model.Invalid), int16(model.Land), int16(model.CloudIce), int16(model.ToaOOR)},
			"flag_meanings": "INVALID LAND CLOUD_ICE TOA_OOR",
		}),
	})
	if err != nil {
		cw.Close()
		return fmt.Errorf("could not add flags: %w", err)
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("could not write product %s: %w", path, err)
	}

	t2 := time.Now()
	log.Printf("writing %s took %s", path, t2.Sub(t1))
	return nil
}

func encodeGray16(w, h int, sample func(i int) uint16) ([]byte, error) {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.SetGray16(i%w, i/w, color.Gray16{Y: sample(i)})
	}
	var b bytes.Buffer
	if err := tiff.Encode(&b, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// archiveManifest lists the scaling of every raster in a TIFF archive.
type archiveManifest struct {
	Name    string             `yaml:"name"`
	Start   time.Time          `yaml:"start"`
	Rasters map[string]Scaling `yaml:"rasters"`
}

// WriteTIFFArchive writes a zip with one 16 bit TIFF per band (refl_<λ>,
// plus tosa_<λ> when TOSA reflectance is kept), one per angle raster,
// ac_flags.tiff, a manifest.yaml with the scaling of every raster and a
// summary.yaml. Invalid pixels of the reflectance rasters hold 0.
func (p *Product) WriteTIFFArchive(w io.Writer) error {
	files := make(map[string][]byte, 2*model.NumBands+len(p.geomNames)+3)
	manifest := archiveManifest{Name: p.Name, Start: p.Start, Rasters: make(map[string]Scaling)}

	add := func(name string, sc Scaling, v []float32, masked bool) error {
		data, err := encodeGray16(p.width, p.height, func(i int) uint16 {
			if masked && model.Flag(p.flags[i]).Has(model.Invalid) {
				return 0
			}
			return sc.quantize(v[i])
		})
		if err != nil {
			return fmt.Errorf("could not encode %s: %w", name, err)
		}
		files[name+".tiff"] = data
		manifest.Rasters[name] = sc
		return nil
	}

	for b, info := range model.Bands {
		wl := int(info.Wavelength)
		if err := add(fmt.Sprintf("refl_%d", wl), ReflectanceScaling, p.reflec[b], true); err != nil {
			return err
		}
		if !p.withTosa {
			continue
		}
		if err := add(fmt.Sprintf("tosa_%d", wl), ReflectanceScaling, p.tosa[b], true); err != nil {
			return err
		}
	}

	for _, name := range p.geomNames {
		if err := add(name, AngleScaling, p.geom[name], false); err != nil {
			return err
		}
	}

	data, err := encodeGray16(p.width, p.height, func(i int) uint16 { return p.flags[i] })
	if err != nil {
		return fmt.Errorf("could not encode flags: %w", err)
	}
	files["ac_flags.tiff"] = data

	m, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("could not encode manifest: %w", err)
	}
	files["manifest.yaml"] = m

	summary, err := yaml.Marshal(p.Summary())
	if err != nil {
		return fmt.Errorf("could not encode summary: %w", err)
	}
	files["summary.yaml"] = summary

	return ziputil.WriteZip(w, files)
}
