package model

import "errors"

// ErrInvalidValue marks malformed input at the domain boundary.
var ErrInvalidValue = errors.New("invalid value")
