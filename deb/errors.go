package deb

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by this package that is not a plain I/O
// failure wraps one of them, so callers can classify with errors.Is.
var (
	ErrValidation          = errors.New("invalid build spec")
	ErrParse               = errors.New("parse error")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFormat              = errors.New("archive format error")
)

var (
	ErrEmptyVersion      = fmt.Errorf("%w: empty version", ErrParse)
	ErrTooManySections   = fmt.Errorf("%w: version has too many sections", ErrParse)
	ErrInvalidVersion    = fmt.Errorf("%w: invalid version", ErrParse)
	ErrInvalidPriority   = fmt.Errorf("%w: invalid priority", ErrParse)
	ErrInvalidUrgency    = fmt.Errorf("%w: invalid urgency", ErrParse)
	ErrInvalidArch       = fmt.Errorf("%w: invalid architecture", ErrParse)
	ErrMissingMaintainer = fmt.Errorf("%w: need maintainer, author or email to infer Maintainer", ErrValidation)
)
