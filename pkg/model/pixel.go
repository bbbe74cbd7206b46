package model

// PixelSample holds the measured and derived inputs of one pixel. The tile
// driver fills it, the corrector reads it; nothing keeps it after the call.
type PixelSample struct {
	X           int
	Y           int
	NadirColumn int

	TOA       Spectrum // reflectance-like TOA radiance
	SolarFlux Spectrum

	Lat         float64
	Lon         float64
	SunZenith   float64 // deg
	SunAzimuth  float64 // deg
	ViewZenith  float64 // deg
	ViewAzimuth float64 // deg
	Ozone       float64 // DU
	Altitude    float64 // m
	Pressure    float64 // hPa

	Validation Flag  // classification bits
	Flags      int32 // copied from the source L2 flags, not interpreted
}
