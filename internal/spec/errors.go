package spec

import "errors"

var (
	ErrMalformed            = errors.New("malformed spec")
	ErrMissingField         = errors.New("missing required field")
	ErrUnsupportedNamespace = errors.New("unsupported namespace")
	ErrInvalidMount         = errors.New("invalid mount")
	ErrInvalidResource      = errors.New("invalid resource limit")
)
