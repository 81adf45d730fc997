package taskstate

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrTaskNotFound            = fmt.Errorf("task %w", ErrNotFound)
	ErrStepNotFound            = fmt.Errorf("step %w", ErrNotFound)
	ErrInvalidInput            = errors.New("invalid input")
	ErrUnsupportedStateVersion = errors.New("unsupported task state version")
)
