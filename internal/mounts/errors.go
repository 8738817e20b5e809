package mounts

import "errors"

var (
	ErrMountFailed = errors.New("mount failed")
	ErrPivotFailed = errors.New("pivot into new root failed")
	ErrPathEscape  = errors.New("mount destination escapes the root filesystem")
)
