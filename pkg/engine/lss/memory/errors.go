package memory

import "errors"

var (
	errEmptyBatch = errors.New("no events supplied")
	errNoEvents   = errors.New("partition has no events")
)
