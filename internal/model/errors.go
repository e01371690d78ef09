package model

import "errors"

// ErrInvalidTrip is returned when a trip key is missing one of its
// components or cannot be parsed.
var ErrInvalidTrip = errors.New("invalid trip")
