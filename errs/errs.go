// Package errs holds the error kinds a pyramid build can fail with.
// Errors are wrapped with context, test them with errors.Is.
package errs

import "errors"

var (
	// ErrGeometry is returned when a raster cannot be mapped onto the tile grid:
	// a rotated or south-up transform, non-square pixels or an odd tile size.
	ErrGeometry = errors.New("rastertile: geometry error")
	// ErrIO covers failed reads from the raster source and failed writes of tiles or the index.
	ErrIO = errors.New("rastertile: io error")
	// ErrDataInvariant means the builder itself broke an ordering or pairing rule.
	ErrDataInvariant = errors.New("rastertile: data invariant violated")
)
