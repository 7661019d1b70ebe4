package agentloop

import (
	"errors"
	"fmt"
)

// Kind categorizes a terminal failure of an adapter call or loop invocation.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindTransport
	KindProviderHTTP
	KindProviderApplication
	KindMalformedResponse
	KindUnknownTool
	KindLoopBoundExceeded
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrTransport           = errors.New("transport error")
	ErrProviderHTTP        = errors.New("provider http error")
	ErrProviderApplication = errors.New("provider application error")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrLoopBoundExceeded   = errors.New("loop bound exceeded")
)

// ErrUnknownAdapter is reported when an adapter is requested by a name that
// has not been registered. It is also a configuration error.
var ErrUnknownAdapter = fmt.Errorf("%w: unknown adapter", ErrConfiguration)

var ErrDuplicateTool = errors.New("duplicate tool name")

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindTransport:
		return ErrTransport
	case KindProviderHTTP:
		return ErrProviderHTTP
	case KindProviderApplication:
		return ErrProviderApplication
	case KindMalformedResponse:
		return ErrMalformedResponse
	case KindUnknownTool:
		return ErrUnknownTool
	case KindLoopBoundExceeded:
		return ErrLoopBoundExceeded
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single categorized failure returned by adapters and the loop.
// errors.Is(err, ErrTransport) and friends match on Kind.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func NewError(kind Kind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

func WrapError(kind Kind, provider, message string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
