package resolve

import (
	"fmt"
	"math"
	"time"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
)

// SolarOracle resolves a solar anchor on a date at a location to a
// local clock time.
type SolarOracle interface {
	Solar(date time.Time, lat, lon float64, kind intent.SolarKind, offsetMin int) (time.Time, error)
}

// Sun implements the NOAA sunrise equation. Dawn and Dusk use the
// civil twilight zenith.
type Sun struct{}

func NewSun() *Sun { return &Sun{} }

const (
	zenithOfficial = 90.833
	zenithCivil    = 96.0
)

func (s *Sun) Solar(date time.Time, lat, lon float64, kind intent.SolarKind, offsetMin int) (time.Time, error) {
	var zenith float64
	var rising bool
	switch kind {
	case intent.SolarDawn:
		zenith, rising = zenithCivil, true
	case intent.SolarSunRise:
		zenith, rising = zenithOfficial, true
	case intent.SolarSunSet:
		zenith, rising = zenithOfficial, false
	case intent.SolarDusk:
		zenith, rising = zenithCivil, false
	default:
		return time.Time{}, fmt.Errorf("unknown solar kind %q", kind)
	}

	utcHour, ok := sunEventUTC(date, lat, lon, zenith, rising)
	if !ok {
		// Polar day/night: fall back to solar noon so the schedule
		// still carries a defined time.
		utcHour = 12 - lon/15
	}

	sec := int(math.Round(utcHour * 3600))
	y, m, d := date.Date()
	utc := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
	local := utc.In(date.Location()).Add(time.Duration(offsetMin) * time.Minute)
	return local, nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// sunEventUTC returns the UTC hour of the event (possibly negative or
// past 24 across a day boundary), or false when the sun never crosses
// the zenith on that date (polar regions).
func sunEventUTC(date time.Time, lat, lon, zenith float64, rising bool) (float64, bool) {
	n := float64(date.YearDay())
	lngHour := lon / 15

	var t float64
	if rising {
		t = n + (6-lngHour)/24
	} else {
		t = n + (18-lngHour)/24
	}

	meanAnomaly := 0.9856*t - 3.289

	trueLon := meanAnomaly + 1.916*math.Sin(deg2rad(meanAnomaly)) +
		0.020*math.Sin(deg2rad(2*meanAnomaly)) + 282.634
	trueLon = math.Mod(trueLon+360, 360)

	rightAsc := rad2deg(math.Atan(0.91764 * math.Tan(deg2rad(trueLon))))
	rightAsc = math.Mod(rightAsc+360, 360)
	lQuadrant := math.Floor(trueLon/90) * 90
	raQuadrant := math.Floor(rightAsc/90) * 90
	rightAsc = (rightAsc + lQuadrant - raQuadrant) / 15

	sinDec := 0.39782 * math.Sin(deg2rad(trueLon))
	cosDec := math.Cos(math.Asin(sinDec))

	cosH := (math.Cos(deg2rad(zenith)) - sinDec*math.Sin(deg2rad(lat))) /
		(cosDec * math.Cos(deg2rad(lat)))
	if cosH > 1 || cosH < -1 {
		return 0, false
	}

	var hour float64
	if rising {
		hour = 360 - rad2deg(math.Acos(cosH))
	} else {
		hour = rad2deg(math.Acos(cosH))
	}
	hour /= 15

	localMeanTime := hour + rightAsc - 0.06571*t - 6.622
	// The UTC hour may fall outside [0, 24) when the event crosses a UTC
	// day boundary; the caller carries the overflow into the date.
	return localMeanTime - lngHour, true
}
