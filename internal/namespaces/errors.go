package namespaces

import "errors"

var (
	ErrUnsupported      = errors.New("unsupported namespace")
	ErrCreationFailed   = errors.New("namespace setup failed")
	ErrPermissionDenied = errors.New("namespace setup requires elevated privileges")
)
