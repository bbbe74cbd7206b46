// Package processor wires the configured network, water mask, climatology
// and detection rules into the tile pipeline and writes the products.
package processor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/project-spencer/wlr/pkg/ac"
	"github.com/project-spencer/wlr/pkg/classify"
	"github.com/project-spencer/wlr/pkg/climatology"
	"github.com/project-spencer/wlr/pkg/config"
	"github.com/project-spencer/wlr/pkg/nn"
	"github.com/project-spencer/wlr/pkg/pipeline"
	"github.com/project-spencer/wlr/pkg/product"
	"github.com/project-spencer/wlr/pkg/scene"
	"github.com/project-spencer/wlr/pkg/watermask"
)

// Output formats.
const (
	FormatNetCDF = "netcdf"
	FormatTIFF   = "tiff"
)

// GeometryRasters are copied from the scene into every product.
var GeometryRasters = []string{scene.ViewAzimuth, scene.SunAzimuth, scene.ViewZenith, scene.SunZenith}

// Processor holds the auxiliary data shared by all scenes. It is safe for
// concurrent use.
type Processor struct {
	cfg   *config.Config
	net   *nn.Network
	rules *classify.Rules
	mask  *watermask.Mask
	clim  *climatology.Climatology
}

// New loads everything cfg refers to.
func New(cfg *config.Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t1 := time.Now()

	p := &Processor{cfg: cfg}

	var err error
	if p.net, err = nn.Load(cfg.Network); err != nil {
		return nil, err
	}
	if _, err := ac.New(p.net); err != nil {
		return nil, fmt.Errorf("could not use network %s: %w", cfg.Network, err)
	}

	land := cfg.LandExpression
	if cfg.UseWaterMask {
		land = ""
		if p.mask, err = watermask.Load(cfg.WaterMask, cfg.WaterMaskPixelSize); err != nil {
			return nil, err
		}
	}
	if p.rules, err = classify.Compile(land, cfg.CloudIceExpression, cfg.ToaOORExpression); err != nil {
		return nil, err
	}

	if cfg.UseClimatology {
		if p.clim, err = climatology.Open(cfg.Climatology); err != nil {
			return nil, err
		}
	}

	t2 := time.Now()
	log.Printf("loading auxiliary data took %s", t2.Sub(t1))

	return p, nil
}

// Process corrects a scene.
func (p *Processor) Process(ctx context.Context, s *scene.Scene) (*product.Product, pipeline.Stats, error) {
	s.SetDefaults(p.cfg.Ozone, p.cfg.Pressure, p.cfg.Altitude)

	prod := product.New(s.Name(), s.Time(), s.Bounds(), p.cfg.OutputTosa)
	for _, name := range GeometryRasters {
		r, ok := s.Rasters[name]
		if !ok {
			return nil, pipeline.Stats{}, fmt.Errorf("%w: %s", scene.ErrMissingRaster, name)
		}
		if err := prod.SetGeometry(name, r.Data); err != nil {
			return nil, pipeline.Stats{}, err
		}
	}

	d := &pipeline.Driver{
		Source:             s,
		Sink:               prod,
		NewNetwork:         func() ac.Network { return p.net.Clone() },
		Rules:              p.rules,
		Time:               s.Time(),
		AverageSalinity:    p.cfg.AverageSalinity,
		AverageTemperature: p.cfg.AverageTemperature,
		TileSize:           p.cfg.TileSize,
		Workers:            p.cfg.Workers,
		PathRadiance:       p.cfg.PathRadiance,
	}
	if p.mask != nil {
		d.WaterMask = p.mask
	}
	if p.clim != nil {
		d.Ancillary = p.clim
	}

	log.Printf("processing scene %s (%dx%d) footprint %v", s.Name(), s.Width, s.Height, s.Footprint())

	stats, err := d.Run(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("could not process scene %s: %w", s.Name(), err)
	}

	log.Printf("scene %s: %d of %d pixels valid, %d land, %d cloud/ice, %d out of range, cloud cover %.2f",
		s.Name(), stats.Valid, stats.Pixels, stats.Land, stats.CloudIce, stats.ToaOOR, classify.CloudCover(prod.Flags()))

	return prod, stats, nil
}

// Write stores prod in outputDir and returns the file path and its size.
func Write(prod *product.Product, outputDir, format string) (string, int64, error) {
	var path string
	switch format {
	case FormatNetCDF:
		path = filepath.Join(outputDir, prod.Name+".nc")
		if err := prod.WriteNetCDF(path); err != nil {
			return "", 0, err
		}
	case FormatTIFF:
		path = filepath.Join(outputDir, prod.Name+".zip")
		f, err := os.Create(path)
		if err != nil {
			return "", 0, fmt.Errorf("could not create %s: %w", path, err)
		}
		err = prod.WriteTIFFArchive(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", 0, fmt.Errorf("could not write %s: %w", path, err)
		}
	default:
		return "", 0, fmt.Errorf("unknown output format %q", format)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}

	log.Printf("wrote product %s (%d bytes)", path, fi.Size())
	return path, fi.Size(), nil
}
