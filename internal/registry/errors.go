package registry

import "errors"

var (
	ErrDuplicateLight = errors.New("light already registered")
	ErrLightNotFound  = errors.New("light not found")
)
