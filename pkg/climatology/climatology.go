// Package climatology provides monthly sea surface salinity and temperature
// from a gridded NetCDF file.
package climatology

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

const months = 12

var ErrGrid = errors.New("invalid climatology grid")

// Grid is a regular lat/lon grid with one layer per month. Salinity and
// Temperature are indexed [month][lat][lon]; missing cells are NaN.
type Grid struct {
	Lat         []float64
	Lon         []float64
	Salinity    [][][]float32
	Temperature [][][]float32
}

// Constant returns a global grid with the same value everywhere.
func Constant(salinity, temperature float64) *Grid {
	g := &Grid{
		Lat: []float64{-90, 90},
		Lon: []float64{-180, 180},
	}
	g.Salinity = fill(len(g.Lat), len(g.Lon), float32(salinity))
	g.Temperature = fill(len(g.Lat), len(g.Lon), float32(temperature))
	return g
}

func fill(nlat, nlon int, v float32) [][][]float32 {
	out := make([][][]float32, months)
	for m := range out {
		out[m] = make([][]float32, nlat)
		for i := range out[m] {
			row := make([]float32, nlon)
			for j := range row {
				row[j] = v
			}
			out[m][i] = row
		}
	}
	return out
}

func (g *Grid) check() error {
	if len(g.Lat) == 0 || len(g.Lon) == 0 {
		return fmt.Errorf("%w: empty axis", ErrGrid)
	}
	for _, v := range [][][][]float32{g.Salinity, g.Temperature} {
		if len(v) != months {
			return fmt.Errorf("%w: %d months", ErrGrid, len(v))
		}
		for _, m := range v {
			if len(m) != len(g.Lat) {
				return fmt.Errorf("%w: %d rows for %d latitudes", ErrGrid, len(m), len(g.Lat))
			}
			for _, row := range m {
				if len(row) != len(g.Lon) {
					return fmt.Errorf("%w: %d columns for %d longitudes", ErrGrid, len(row), len(g.Lon))
				}
			}
		}
	}
	return nil
}

// axis maps coordinates to the nearest index of a regularly spaced axis.
type axis struct {
	first, step float64
	n           int
}

func newAxis(v []float64) (axis, error) {
	a := axis{first: v[0], n: len(v)}
	if len(v) > 1 {
		a.step = (v[len(v)-1] - v[0]) / float64(len(v)-1)
		if a.step == 0 {
			return a, fmt.Errorf("%w: constant axis", ErrGrid)
		}
	}
	return a, nil
}

func (a axis) index(v float64) (int, bool) {
	if a.n == 1 {
		return 0, v == a.first
	}
	i := int(math.Round((v - a.first) / a.step))
	if i < 0 || i >= a.n {
		return 0, false
	}
	return i, true
}

// Climatology answers salinity and temperature lookups from memory.
type Climatology struct {
	grid     *Grid
	lat, lon axis
}

func New(g *Grid) (*Climatology, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	lat, err := newAxis(g.Lat)
	if err != nil {
		return nil, err
	}
	lon, err := newAxis(g.Lon)
	if err != nil {
		return nil, err
	}
	return &Climatology{grid: g, lat: lat, lon: lon}, nil
}

func (c *Climatology) lookup(v [][][]float32, t time.Time, lat, lon float64) float64 {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return math.NaN()
	}
	i, ok := c.lat.index(lat)
	if !ok {
		return math.NaN()
	}
	j, ok := c.lon.index(lon)
	if !ok {
		return math.NaN()
	}
	return float64(v[int(t.Month())-1][i][j])
}

// Salinity returns the salinity in PSU of the grid cell nearest to lat/lon
// for the month of t, or NaN outside the grid.
func (c *Climatology) Salinity(t time.Time, lat, lon float64) float64 {
	return c.lookup(c.grid.Salinity, t, lat, lon)
}

// Temperature returns the water temperature in °C, see Salinity.
func (c *Climatology) Temperature(t time.Time, lat, lon float64) float64 {
	return c.lookup(c.grid.Temperature, t, lat, lon)
}

// Open loads the whole climatology file into memory.
func Open(path string) (*Climatology, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open climatology %s: %w", path, err)
	}
	defer nc.Close()

	var g Grid
	if g.Lat, err = readAxis(nc, "lat"); err != nil {
		return nil, err
	}
	if g.Lon, err = readAxis(nc, "lon"); err != nil {
		return nil, err
	}
	if g.Salinity, err = readField(nc, "salinity"); err != nil {
		return nil, err
	}
	if g.Temperature, err = readField(nc, "temperature"); err != nil {
		return nil, err
	}

	log.Printf("loaded climatology %s with %dx%d cells", path, len(g.Lat), len(g.Lon))

	return New(&g)
}

func readAxis(nc api.Group, name string) ([]float64, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("could not read variable %s: %w", name, err)
	}
	switch vals := v.Values.(type) {
	case []float64:
		return vals, nil
	case []float32:
		out := make([]float64, len(vals))
		for i, x := range vals {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: variable %s has type %T", ErrGrid, name, v.Values)
	}
}

func fillValue(v *api.Variable) (float64, bool) {
	if v.Attributes == nil {
		return 0, false
	}
	a, ok := v.Attributes.Get("_FillValue")
	if !ok {
		return 0, false
	}
	switch f := a.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	return 0, false
}

func readField(nc api.Group, name string) ([][][]float32, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("could not read variable %s: %w", name, err)
	}

	var out [][][]float32
	switch vals := v.Values.(type) {
	case [][][]float32:
		out = vals
	case [][][]float64:
		out = make([][][]float32, len(vals))
		for m := range vals {
			out[m] = make([][]float32, len(vals[m]))
			for i := range vals[m] {
				out[m][i] = make([]float32, len(vals[m][i]))
				for j, x := range vals[m][i] {
					out[m][i][j] = float32(x)
				}
			}
		}
	default:
		return nil, fmt.Errorf("%w: variable %s has type %T", ErrGrid, name, v.Values)
	}

	if fv, ok := fillValue(v); ok {
		nan := float32(math.NaN())
		for m := range out {
			for i := range out[m] {
				for j, x := range out[m][i] {
					if x == float32(fv) {
						out[m][i][j] = nan
					}
				}
			}
		}
	}
	return out, nil
}

// fill value written for NaN cells
const fillValue32 = float32(-999)

// Write stores g as a NetCDF classic file readable by Open.
func Write(path string, g *Grid) error {
	if err := g.check(); err != nil {
		return err
	}

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("could not create climatology %s: %w", path, err)
	}

	if err := writeAxis(cw, "lat", "degrees_north", g.Lat); err != nil {
		cw.Close()
		return err
	}
	if err := writeAxis(cw, "lon", "degrees_east", g.Lon); err != nil {
		cw.Close()
		return err
	}
	if err := writeField(cw, "salinity", "PSU", g.Salinity); err != nil {
		cw.Close()
		return err
	}
	if err := writeField(cw, "temperature", "degC", g.Temperature); err != nil {
		cw.Close()
		return err
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("could not write climatology %s: %w", path, err)
	}
	return nil
}

func writeAxis(cw *cdf.CDFWriter, name, units string, v []float64) error {
	attrs, err := util.NewOrderedMap([]string{"units"}, map[string]interface{}{"units": units})
	if err != nil {
		return err
	}
	err = cw.AddVar(name, api.Variable{
		Values:     v,
		Dimensions: []string{name},
		Attributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("could not add variable %s: %w", name, err)
	}
	return nil
}

func writeField(cw *cdf.CDFWriter, name, units string, v [][][]float32) error {
	out := make([][][]float32, len(v))
	for m := range v {
		out[m] = make([][]float32, len(v[m]))
		for i := range v[m] {
			out[m][i] = make([]float32, len(v[m][i]))
			for j, x := range v[m][i] {
				if math.IsNaN(float64(x)) {
					x = fillValue32
				}
				out[m][i][j] = x
			}
		}
	}

	attrs, err := util.NewOrderedMap(
		[]string{"units", "_FillValue"},
		map[string]interface{}{"units": units, "_FillValue": fillValue32})
	if err != nil {
		return err
	}
	err = cw.AddVar(name, api.Variable{
		Values:     out,
		Dimensions: []string{"month", "lat", "lon"},
		Attributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("could not add variable %s: %w", name, err)
	}
	return nil
}
