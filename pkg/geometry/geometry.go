package geometry

import "math"

// empirical scan angle correction
const (
	viewAngleOffset = -0.004793
	viewAngleSlope  = 0.0093247
)

// CorrectViewZenith applies the scan angle correction to a view zenith angle
// in degrees, based on the distance of the column from nadir.
func CorrectViewZenith(viewZenithDeg float64, col, nadirCol int) float64 {
	d := col - nadirCol
	if d < 0 {
		d = -d
	}
	return viewZenithDeg + float64(d)*viewAngleSlope + viewAngleOffset
}

// AzimuthDifference returns the relative azimuth between view and sun in
// degrees, folded into [0, 180]. It is symmetric in its arguments.
func AzimuthDifference(viewAzimuthDeg, sunAzimuthDeg float64) float64 {
	d := Radians(viewAzimuthDeg) - Radians(sunAzimuthDeg)
	return Degrees(math.Acos(math.Cos(d)))
}

// DirectionCosines converts the view zenith and relative azimuth (radians)
// into the unit vector fed to the network.
func DirectionCosines(viewZenithRad, aziDiffRad float64) [3]float64 {
	sinV := math.Sin(viewZenithRad)
	return [3]float64{
		sinV * math.Cos(aziDiffRad),
		sinV * math.Sin(aziDiffRad),
		math.Cos(viewZenithRad),
	}
}

func Radians(deg float64) float64 { return deg * math.Pi / 180 }
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }
