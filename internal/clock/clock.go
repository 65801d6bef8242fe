// Package clock provides wall-clock access and date handling for the
// QA service. All stored dates are ISO-8601 with an explicit offset in
// Korea Standard Time; naive local times never leave this package.
package clock

import (
	"time"
)

// Clock supplies the current wall time. Components take a Clock instead
// of calling time.Now so tests can pin the clock.
type Clock interface {
	Now() time.Time
}

// Real is the production clock, pinned to KST.
type Real struct {
	loc *time.Location
}

// Compile-time interface check.
var _ Clock = (*Real)(nil)

// NewKST returns a Real clock in Asia/Seoul. When the IANA database is
// unavailable it falls back to a fixed +09:00 zone, which is equivalent
// for Korea (no DST).
func NewKST() *Real {
	return &Real{loc: Location()}
}

// Now returns the current time localized to KST.
func (r *Real) Now() time.Time {
	return time.Now().In(r.loc)
}

// Location returns the clock's timezone.
func (r *Real) Location() *time.Location {
	return r.loc
}

// Fixed is a test clock frozen at T.
type Fixed struct {
	T time.Time
}

var _ Clock = Fixed{}

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return f.T
}

var kst = loadKST()

func loadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Location returns the shared KST location.
func Location() *time.Location {
	return kst
}
