package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyInput     = errors.New("nothing to post")
	ErrUnknownService = errors.New("unknown service")
)

// TooLongError is returned when a text exceeds the configured maximum.
// Both values are counted in characters.
type TooLongError struct {
	Length int
	Max    int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("text is too long: %d characters (max %d)", e.Length, e.Max)
}

type UnknownServiceError struct {
	Service string
	Known   []string
}

func (e *UnknownServiceError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown service %q: no services are registered", e.Service)
	}
	return fmt.Sprintf("unknown service %q: possible values (%s)", e.Service, strings.Join(e.Known, ","))
}

func (e *UnknownServiceError) Unwrap() error {
	return ErrUnknownService
}
