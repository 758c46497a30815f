package rewriter

import "errors"

var (
	// ErrParse is returned when the markup could not be read or parsed.
	ErrParse = errors.New("rewriter: parse failed")
	// ErrInvalidBase is returned when Process is given a base that is not an absolute URL.
	ErrInvalidBase = errors.New("rewriter: invalid base url")
	// ErrMissingCollaborator is returned by New when a URL, CSS or JS rewriter is nil.
	ErrMissingCollaborator = errors.New("rewriter: missing collaborator")
)
