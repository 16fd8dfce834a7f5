package evidence

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them to responses.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInput is a caller mistake: wrong file type, empty query.
	KindInput
	// KindUpstream is a parser, embedding service or store failure.
	KindUpstream
	// KindNotFound is a lookup miss.
	KindNotFound
	// KindConfig is a deployment mistake, e.g. mismatched embedding dims.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindUpstream:
		return "upstream"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// InputError marks err as the caller's fault.
func InputError(op string, err error) error {
	return &Error{Kind: KindInput, Op: op, Err: err}
}

// UpstreamError marks err as a dependency failure.
func UpstreamError(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// NotFoundError marks err as a lookup miss.
func NotFoundError(op string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// ConfigError marks err as a deployment mistake.
func ConfigError(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
