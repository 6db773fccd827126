package generation

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyResponse     = errors.New("empty response from model")
	ErrMalformedResponse = errors.New("malformed response from model")
	ErrTimeout           = errors.New("generation timed out")

	ErrImageCount      = errors.New("between 2 and 6 profile images are required")
	ErrImageType       = errors.New("only image uploads are supported")
	ErrNothingToAssess = errors.New("a prompt answer or a screenshot is required")
	ErrEmptyQuestion   = errors.New("question must not be empty")
)

// GenerationError wraps every failure of a remote generation call.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
