// Package tosa converts TOA radiance into top-of-standard-atmosphere
// reflectance with an analytic ozone and Rayleigh correction of a thin
// correction layer between the actual surface pressure and the standard one.
package tosa

import (
	"math"

	"github.com/project-spencer/wlr/pkg/geometry"
	"github.com/project-spencer/wlr/pkg/model"
)

const (
	standardPressure = 1013.2 // hPa
	minAltitude      = 1.0    // m

	// Rayleigh depolarization factor
	depolarization = 0.0279
)

// Workspace holds the per-band intermediate arrays of one TOSA computation.
// It is reused from pixel to pixel and must not be shared between goroutines;
// every tile owns one.
type Workspace struct {
	lToa            model.Spectrum
	tauRaylRest     model.Spectrum
	transOzDownReal model.Spectrum
	transOzUpReal   model.Spectrum
	transOzDownRest model.Spectrum
	transOzUpRest   model.Spectrum
	transRaylDown   model.Spectrum
	transRaylUp     model.Spectrum
	lrcPath         model.Spectrum
	edToa           model.Spectrum
	edTosa          model.Spectrum
	lTosa           model.Spectrum
}

func NewWorkspace() *Workspace {
	return &Workspace{}
}

// PathRadiance returns the Rayleigh path radiance of the correction layer
// from the last Compute call.
func (w *Workspace) PathRadiance() model.Spectrum {
	return w.lrcPath
}

// Compute returns the TOSA reflectance of p. The angles are the (corrected)
// view zenith and the sun zenith in radians. p is not modified.
func (w *Workspace) Compute(p *model.PixelSample, viewZenithRad, sunZenithRad float64) model.Spectrum {
	cosSun := math.Cos(sunZenithRad)
	sinSun := math.Sin(sunZenithRad)
	cosView := math.Cos(viewZenithRad)
	sinView := math.Sin(viewZenithRad)

	aziDiffRad := geometry.Radians(geometry.AzimuthDifference(p.ViewAzimuth, p.SunAzimuth))
	cosAziDiff := math.Cos(aziDiffRad)

	f0 := &p.SolarFlux

	// back from reflectance to radiance: r = pi * L / (F0 * mu)
	for i := range w.lToa {
		w.lToa[i] = p.TOA[i] * f0[i] * cosView / math.Pi
	}

	altitude := p.Altitude
	if altitude < minAltitude {
		altitude = minAltitude
	}
	altitudePressure := p.Pressure * math.Pow(1.0-0.0065*altitude/288.15, 5.255)

	// relative air mass of the correction layer
	raylRestMass := (altitudePressure - standardPressure) / standardPressure

	for i := range w.tauRaylRest {
		lam := model.Bands[i].Wavelength / 1000 // µm
		w.tauRaylRest[i] = raylRestMass *
			(0.008524*math.Pow(lam, -4.0) +
				9.63e-5*math.Pow(lam, -6.0) +
				1.1e-6*math.Pow(lam, -8.0))
	}

	phase := RayleighPhase(cosView, sinView, cosSun, sinSun, cosAziDiff)

	ozoneReal := p.Ozone / 1000.0 // DU -> atm-cm
	ozoneRest := p.Ozone / 1000.0
	for i := range w.transOzDownReal {
		k := -model.Bands[i].OzoneAbsorption
		tau := -w.tauRaylRest[i] * 0.5 // diffuse transmission

		w.transOzDownReal[i] = math.Exp(k * ozoneReal / cosSun)
		w.transOzUpReal[i] = math.Exp(k * ozoneReal / cosView)

		w.transOzDownRest[i] = math.Exp(k * ozoneRest / cosSun)
		w.transOzUpRest[i] = math.Exp(k * ozoneRest / cosView)

		w.transRaylDown[i] = math.Exp(tau / cosSun)
		w.transRaylUp[i] = math.Exp(tau / cosView)
	}

	var rTosa model.Spectrum
	for i := range rTosa {
		w.lrcPath[i] = f0[i] * w.transOzDownReal[i] * w.tauRaylRest[i] * phase / (4 * math.Pi * cosView)
		w.edToa[i] = f0[i] * cosSun
		w.edTosa[i] = w.edToa[i] * w.transOzDownRest[i] * w.transRaylDown[i]
		w.lTosa[i] = (w.lToa[i] + w.lrcPath[i]*w.transOzUpReal[i]) / w.transOzUpRest[i] * w.transRaylUp[i]
		rTosa[i] = w.lTosa[i] / w.edTosa[i]
	}

	return rTosa
}

// RayleighPhase is the two-term Rayleigh phase function for the scattering
// angle given by the view/sun geometry.
func RayleighPhase(cosView, sinView, cosSun, sinSun, cosAziDiff float64) float64 {
	cosScat := -cosView*cosSun - sinView*sinSun*cosAziDiff
	gam := depolarization / (2.0 - depolarization)
	return 3.0 / (4.0 * (1.0 + 2.0*gam)) * ((1.0-gam)*cosScat*cosScat + (1.0 + 3.0*gam))
}
