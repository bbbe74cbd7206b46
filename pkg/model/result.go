package model

import "strings"

type Flag uint16

const (
	Invalid  Flag = 0x01
	Land     Flag = 0x02
	CloudIce Flag = 0x04
	ToaOOR   Flag = 0x08
)

// InvalidMask holds the classification bits that make a pixel unusable.
const InvalidMask = Land | CloudIce | ToaOOR

func (f Flag) Has(b Flag) bool { return f&b != 0 }

func (f Flag) String() string {
	if f == 0 {
		return "VALID"
	}
	var parts []string
	for _, n := range []struct {
		f    Flag
		name string
	}{{Invalid, "INVALID"}, {Land, "LAND"}, {CloudIce, "CLOUD_ICE"}, {ToaOOR, "TOA_OOR"}} {
		if f.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Result is the outcome of correcting one pixel. Spectra are value arrays so
// a Result never shares memory with the corrector that produced it.
type Result struct {
	Reflec Spectrum // water-leaving reflectance
	Tosa   Spectrum // TOSA reflectance
	Path   Spectrum // Rayleigh path radiance, only filled on request
	Flag   Flag
}

func (r Result) Valid() bool { return !r.Flag.Has(Invalid) }
