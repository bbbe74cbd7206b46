package model

type Band string

const (
	B412 Band = "B412"
	B443 Band = "B443"
	B488 Band = "B488"
	B531 Band = "B531"
	B547 Band = "B547"
	B667 Band = "B667"
	B678 Band = "B678"
	B748 Band = "B748"
	B869 Band = "B869"
)

// NumBands is the number of spectral channels used by the correction.
const NumBands = 9

// BandInfo describes one spectral channel.
type BandInfo struct {
	Band            Band
	Wavelength      float64 // nm
	SolarFlux       float64 // F0 at TOA, incl. sun-earth distance
	OzoneAbsorption float64 // cm-1
}

// Bands is the canonical band table. Every per-band array in the module
// (TOA radiance, solar flux, TOSA and water-leaving reflectance) is indexed
// in this order.
var Bands = [NumBands]BandInfo{
	{B412, 412, 172.912, 0.001597},
	{B443, 443, 187.622, 0.003207},
	{B488, 488, 194.933, 0.020289},
	{B531, 531, 185.747, 0.068453},
	{B547, 547, 186.539, 0.085922},
	{B667, 667, 152.255, 0.045102},
	{B678, 678, 148.052, 0.036223},
	{B748, 748, 128.065, 0.010311},
	{B869, 869, 97.174, 0.001967},
}

// Spectrum holds one value per band in canonical order.
type Spectrum [NumBands]float64

// SolarFluxes returns the F0 column of the band table.
func SolarFluxes() Spectrum {
	var s Spectrum
	for i, b := range Bands {
		s[i] = b.SolarFlux
	}
	return s
}

// BandIndex returns the canonical index of b, or -1.
func BandIndex(b Band) int {
	for i, info := range Bands {
		if info.Band == b {
			return i
		}
	}
	return -1
}
