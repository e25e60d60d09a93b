package domain

import "errors"

// ErrNotFound is returned by stores when the addressed goal or task does not exist.
var ErrNotFound = errors.New("not found")
