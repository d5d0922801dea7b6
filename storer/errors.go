package storer

import "errors"

var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrStore               = errors.New("store error")
)
