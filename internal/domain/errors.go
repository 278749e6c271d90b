package domain

import "errors"

var (
	// ErrInvalidGeometry means input could not be parsed as GeoJSON or held
	// no usable geometry.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrSourceUnavailable covers transport failures, non-success statuses,
	// and unparseable responses from an external data source.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrNoIntersectingFeatures means a source answered but had nothing usable
	// for the queried area.
	ErrNoIntersectingFeatures = errors.New("no intersecting features")

	// ErrURITooLong marks a request the population service rejected, or would
	// reject, because of its encoded size.
	ErrURITooLong = errors.New("request uri too long")
)
