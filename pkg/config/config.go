// Package config holds the processor parameters. They are read from a YAML
// file and can be overridden on the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/project-spencer/wlr/pkg/classify"
	"github.com/project-spencer/wlr/pkg/pipeline"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Network    string `yaml:"network"`
	OutputTosa bool   `yaml:"output_tosa"`

	UseWaterMask       bool    `yaml:"use_water_mask"`
	WaterMask          string  `yaml:"water_mask"`
	WaterMaskPixelSize float64 `yaml:"water_mask_pixel_size"` // degrees

	LandExpression     string `yaml:"land_expression"`
	CloudIceExpression string `yaml:"cloud_ice_expression"`
	ToaOORExpression   string `yaml:"toa_oor_expression"`

	UseClimatology     bool    `yaml:"use_climatology"`
	Climatology        string  `yaml:"climatology"`
	AverageSalinity    float64 `yaml:"average_salinity"`    // PSU
	AverageTemperature float64 `yaml:"average_temperature"` // °C

	Altitude float64 `yaml:"altitude"` // m
	Pressure float64 `yaml:"pressure"` // hPa
	Ozone    float64 `yaml:"ozone"`    // DU

	TileSize     int  `yaml:"tile_size"`
	Workers      int  `yaml:"workers"`
	PathRadiance bool `yaml:"path_radiance"`
}

func Default() *Config {
	return &Config{
		OutputTosa:         true,
		UseWaterMask:       true,
		WaterMaskPixelSize: 0.01,
		LandExpression:     classify.DefaultLandExpression,
		CloudIceExpression: classify.DefaultCloudIceExpression,
		ToaOORExpression:   classify.DefaultToaOORExpression,
		UseClimatology:     true,
		AverageSalinity:    35,
		AverageTemperature: 15,
		Altitude:           0,
		Pressure:           1013.25,
		Ozone:              350,
		TileSize:           pipeline.DefaultTileSize,
		Workers:            runtime.NumCPU(),
	}
}

// Load reads a configuration file. Keys missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if err := c.load(path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("could not marshal config: %v", err)
	}
	return string(b)
}

func (c *Config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Network, "network", c.Network, "network description (YAML)")
	fs.BoolVar(&c.OutputTosa, "output-tosa", c.OutputTosa, "write TOSA reflectance")
	fs.BoolVar(&c.UseWaterMask, "use-water-mask", c.UseWaterMask, "decide land with the water mask")
	fs.StringVar(&c.WaterMask, "water-mask", c.WaterMask, "land polygons (GeoJSON)")
	fs.Float64Var(&c.WaterMaskPixelSize, "water-mask-pixel-size", c.WaterMaskPixelSize, "pixel size for the water fraction in degrees")
	fs.StringVar(&c.LandExpression, "land-expression", c.LandExpression, "land detection expression")
	fs.StringVar(&c.CloudIceExpression, "cloud-ice-expression", c.CloudIceExpression, "cloud and ice detection expression")
	fs.StringVar(&c.ToaOORExpression, "toa-oor-expression", c.ToaOORExpression, "TOA out of range expression")
	fs.BoolVar(&c.UseClimatology, "use-climatology", c.UseClimatology, "use the salinity/temperature climatology")
	fs.StringVar(&c.Climatology, "climatology", c.Climatology, "climatology (NetCDF)")
	fs.Float64Var(&c.AverageSalinity, "average-salinity", c.AverageSalinity, "salinity where no climatology value exists")
	fs.Float64Var(&c.AverageTemperature, "average-temperature", c.AverageTemperature, "temperature where no climatology value exists")
	fs.Float64Var(&c.Altitude, "altitude", c.Altitude, "surface altitude in m")
	fs.Float64Var(&c.Pressure, "pressure", c.Pressure, "surface pressure in hPa")
	fs.Float64Var(&c.Ozone, "ozone", c.Ozone, "ozone in DU")
	fs.IntVar(&c.TileSize, "tile-size", c.TileSize, "tile edge length in pixels")
	fs.IntVar(&c.Workers, "workers", c.Workers, "number of tiles processed in parallel")
	fs.BoolVar(&c.PathRadiance, "path-radiance", c.PathRadiance, "compute the Rayleigh path radiance")
}

// Parse registers a -config flag and one flag per field on fs and parses
// args. Values from the file replace the defaults, flags given on the
// command line replace both.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	c := Default()

	var path string
	fs.StringVar(&path, "config", "", "configuration file (YAML)")
	c.register(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if path != "" {
		set := make(map[string]string)
		fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })

		if err := c.load(path); err != nil {
			return nil, err
		}

		for name, v := range set {
			if err := fs.Set(name, v); err != nil {
				return nil, err
			}
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Network == "":
		return fmt.Errorf("%w: no network", ErrInvalid)
	case c.UseWaterMask && c.WaterMask == "":
		return fmt.Errorf("%w: water mask enabled without a file", ErrInvalid)
	case c.UseWaterMask && c.WaterMaskPixelSize <= 0:
		return fmt.Errorf("%w: water mask pixel size %g", ErrInvalid, c.WaterMaskPixelSize)
	case !c.UseWaterMask && c.LandExpression == "":
		return fmt.Errorf("%w: no land expression and no water mask", ErrInvalid)
	case c.CloudIceExpression == "":
		return fmt.Errorf("%w: no cloud/ice expression", ErrInvalid)
	case c.ToaOORExpression == "":
		return fmt.Errorf("%w: no TOA out of range expression", ErrInvalid)
	case c.UseClimatology && c.Climatology == "":
		return fmt.Errorf("%w: climatology enabled without a file", ErrInvalid)
	case c.Pressure <= 0:
		return fmt.Errorf("%w: pressure %g", ErrInvalid, c.Pressure)
	case c.Ozone < 0:
		return fmt.Errorf("%w: ozone %g", ErrInvalid, c.Ozone)
	case c.TileSize <= 0:
		return fmt.Errorf("%w: tile size %d", ErrInvalid, c.TileSize)
	case c.Workers <= 0:
		return fmt.Errorf("%w: %d workers", ErrInvalid, c.Workers)
	}
	return nil
}
