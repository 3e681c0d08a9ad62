package series

import "errors"

// Sentinel errors for the series layer.
var (
	ErrNotFound        = errors.New("occurrence not found")
	ErrNotAHead        = errors.New("occurrence is not a series head")
	ErrMalformedSeries = errors.New("series linkage is inconsistent")
	ErrSeriesBusy      = errors.New("series is being regenerated by another request")
)
