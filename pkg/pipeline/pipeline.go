// Package pipeline splits a scene into tiles and runs the atmospheric
// correction on them in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/project-spencer/wlr/pkg/ac"
	"github.com/project-spencer/wlr/pkg/classify"
	"github.com/project-spencer/wlr/pkg/geometry"
	"github.com/project-spencer/wlr/pkg/model"
)

const DefaultTileSize = 256

// Tile holds the samples of one rectangle of a scene in row-major order.
type Tile struct {
	Rect   image.Rectangle
	Pixels []model.PixelSample
}

func (t *Tile) At(x, y int) *model.PixelSample {
	return &t.Pixels[(y-t.Rect.Min.Y)*t.Rect.Dx()+(x-t.Rect.Min.X)]
}

// Source provides the input rasters of a scene. ReadTile may be called from
// several goroutines at once.
type Source interface {
	Bounds() image.Rectangle
	// ViewZenithRow returns the view zenith angles of one scan line.
	ViewZenithRow() ([]float64, error)
	ReadTile(ctx context.Context, r image.Rectangle) (*Tile, error)
}

// Ancillary provides water salinity and temperature. NaN means unknown.
type Ancillary interface {
	Salinity(t time.Time, lat, lon float64) float64
	Temperature(t time.Time, lat, lon float64) float64
}

// Sink receives the corrected tiles. Tiles never overlap, WriteTile is
// called from several goroutines at once.
type Sink interface {
	WriteTile(r image.Rectangle, results []model.Result) error
}

// Stats counts the pixels of a run by outcome.
type Stats struct {
	Tiles    int
	Pixels   int
	Valid    int
	Land     int
	CloudIce int
	ToaOOR   int
}

func (s *Stats) add(o Stats) {
	s.Tiles += o.Tiles
	s.Pixels += o.Pixels
	s.Valid += o.Valid
	s.Land += o.Land
	s.CloudIce += o.CloudIce
	s.ToaOOR += o.ToaOOR
}

func (s *Stats) count(f model.Flag) {
	s.Pixels++
	if !f.Has(model.Invalid) {
		s.Valid++
	}
	if f.Has(model.Land) {
		s.Land++
	}
	if f.Has(model.CloudIce) {
		s.CloudIce++
	}
	if f.Has(model.ToaOOR) {
		s.ToaOOR++
	}
}

// Driver runs the correction of one scene.
type Driver struct {
	Source Source
	Sink   Sink

	// NewNetwork returns a network instance for a single tile.
	NewNetwork func() ac.Network

	// Rules classify the pixels, with land from WaterMask if it is set.
	// Without rules the Validation bits of the source are used.
	Rules     *classify.Rules
	WaterMask classify.WaterMask

	// Ancillary is optional, missing values fall back to the averages.
	Ancillary          Ancillary
	Time               time.Time
	AverageSalinity    float64
	AverageTemperature float64

	TileSize     int
	Workers      int
	PathRadiance bool
}

// Tiles returns the tile rectangles covering b in row-major order.
func Tiles(b image.Rectangle, size int) []image.Rectangle {
	if size <= 0 {
		size = DefaultTileSize
	}
	var out []image.Rectangle
	for y := b.Min.Y; y < b.Max.Y; y += size {
		for x := b.Min.X; x < b.Max.X; x += size {
			out = append(out, image.Rect(x, y, x+size, y+size).Intersect(b))
		}
	}
	return out
}

func (d *Driver) newClassifier() (ac.Classifier, error) {
	if d.Rules == nil {
		return classify.Precomputed{}, nil
	}
	return d.Rules.NewClassifier(d.WaterMask)
}

func (d *Driver) newCorrector() (*ac.Corrector, error) {
	cl, err := d.newClassifier()
	if err != nil {
		return nil, err
	}
	opts := []ac.Option{ac.WithClassifier(cl)}
	if d.PathRadiance {
		opts = append(opts, ac.WithPathRadiance())
	}
	return ac.New(d.NewNetwork(), opts...)
}

// Run corrects every tile of the source. The nadir column is determined
// once for the whole scene. The first failing tile cancels the others and
// its error is returned.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	if d.Source == nil || d.Sink == nil || d.NewNetwork == nil {
		return stats, errors.New("driver needs a source, a sink and a network")
	}

	row, err := d.Source.ViewZenithRow()
	if err != nil {
		return stats, fmt.Errorf("could not read view zenith row: %w", err)
	}
	nadir, err := geometry.FindNadirColumn(row)
	if err != nil {
		return stats, fmt.Errorf("could not find nadir column: %w", err)
	}
	log.Printf("nadir column at %d of %d", nadir, len(row))

	// configuration errors surface before any tile starts
	if _, err := d.newCorrector(); err != nil {
		return stats, err
	}

	tiles := Tiles(d.Source.Bounds(), d.TileSize)

	t1 := time.Now()

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	if d.Workers > 0 {
		g.SetLimit(d.Workers)
	}

	for _, r := range tiles {
		r := r
		g.Go(func() error {
			s, err := d.runTile(ctx, r, nadir)
			if err != nil {
				return fmt.Errorf("could not process tile %v: %w", r, err)
			}
			mu.Lock()
			stats.add(s)
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()

	t2 := time.Now()
	log.Printf("processing %d tiles took %s", len(tiles), t2.Sub(t1))

	return stats, err
}

func (d *Driver) runTile(ctx context.Context, r image.Rectangle, nadir int) (Stats, error) {
	var s Stats

	c, err := d.newCorrector()
	if err != nil {
		return s, err
	}

	tile, err := d.Source.ReadTile(ctx, r)
	if err != nil {
		return s, err
	}
	if len(tile.Pixels) != r.Dx()*r.Dy() {
		return s, fmt.Errorf("source returned %d pixels for %d", len(tile.Pixels), r.Dx()*r.Dy())
	}

	salinity, temperature := d.materialize(tile)

	results := make([]model.Result, len(tile.Pixels))
	w := r.Dx()
	for y := 0; y < r.Dy(); y++ {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		for x := 0; x < w; x++ {
			i := y*w + x
			p := &tile.Pixels[i]
			p.NadirColumn = nadir

			res, err := c.Correct(p, temperature[i], salinity[i])
			if err != nil {
				return s, err
			}
			results[i] = res
			s.count(res.Flag)
		}
	}

	if err := d.Sink.WriteTile(r, results); err != nil {
		return s, fmt.Errorf("could not write tile: %w", err)
	}
	s.Tiles = 1
	return s, nil
}

// materialize looks up salinity and temperature for every pixel of the tile
// and replaces missing values by the scene averages.
func (d *Driver) materialize(t *Tile) (salinity, temperature []float64) {
	salinity = make([]float64, len(t.Pixels))
	temperature = make([]float64, len(t.Pixels))
	for i := range t.Pixels {
		sal, temp := math.NaN(), math.NaN()
		if d.Ancillary != nil {
			p := &t.Pixels[i]
			sal = d.Ancillary.Salinity(d.Time, p.Lat, p.Lon)
			temp = d.Ancillary.Temperature(d.Time, p.Lat, p.Lon)
		}
		if math.IsNaN(sal) {
			sal = d.AverageSalinity
		}
		if math.IsNaN(temp) {
			temp = d.AverageTemperature
		}
		salinity[i] = sal
		temperature[i] = temp
	}
	return salinity, temperature
}
