package classify

import "github.com/project-spencer/wlr/pkg/model"

// CloudCover returns the share of pixels flagged as cloud or ice.
func CloudCover(flags []uint16) float64 {
	if len(flags) == 0 {
		return 0
	}

	count := 0
	for _, f := range flags {
		if model.Flag(f).Has(model.CloudIce) {
			count++
		}
	}

	return float64(count) / float64(len(flags))
}

// WaterCover returns the share of pixels that are not land, cloudy or not.
// Cloud cover of a mostly dry scene says little, callers use this to decide
// whether the cloud cover is meaningful.
func WaterCover(flags []uint16) float64 {
	if len(flags) == 0 {
		return 0
	}

	count := 0
	for _, f := range flags {
		if !model.Flag(f).Has(model.Land) {
			count++
		}
	}

	return float64(count) / float64(len(flags))
}
