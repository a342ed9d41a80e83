// Package apierr defines Queuey's error taxonomy: the small fixed set of
// engine-level error kinds, their HTTP status mapping, and the error
// envelope shape every endpoint renders on failure. The validate and
// queue layers return an *Error; the queue engine wraps storage and
// metadata errors with Wrap; the HTTP surface performs a total, mechanical mapping from
// kind to status and never inspects error strings.
package apierr

import "fmt"

// Kind is one of the fixed engine-level error kinds from the error
// taxonomy.
type Kind string

const (
	InvalidParameter      Kind = "invalid-parameter"
	InvalidUpdate         Kind = "invalid-update"
	InvalidQueueName      Kind = "invalid-queue-name"
	InvalidMessageID      Kind = "invalid-message-id"
	InvalidApplicationKey Kind = "invalid-application-key"
	AccessDenied          Kind = "access-denied"
	StorageUnavailable    Kind = "storage-unavailable"
	NotFound              Kind = "not-found"
)

// statusByKind is the total mapping from kind to HTTP status code.
var statusByKind = map[Kind]int{
	InvalidParameter:      400,
	InvalidUpdate:         400,
	InvalidQueueName:      404,
	InvalidMessageID:      400,
	InvalidApplicationKey: 401,
	AccessDenied:          403,
	StorageUnavailable:    500,
	NotFound:              404,
}

// Error is the one error type every Queuey component returns. It carries
// exactly one primary kind, a human-readable message, and optionally a
// field name the message refers to (for per-field validation errors).
type Error struct {
	Kind    Kind
	Field   string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code this error's kind maps to.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return 500
}

// New builds a bare *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Field builds a field-scoped validation error (always InvalidParameter).
func Field(field string, format string, args ...interface{}) *Error {
	return &Error{Kind: InvalidParameter, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to a lower-level error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

// As extracts an *Error from err if one is present anywhere in its chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Envelope is the JSON wire shape for both success and error responses.
// On success Status is "ok" and ErrorMsg is omitted; on error Status is
// "error" and ErrorMsg carries either {<Kind>: <message>} or, for field
// errors, {<field>: <message>}.
type Envelope struct {
	Status   string                 `json:"status"`
	ErrorMsg map[string]string      `json:"error_msg,omitempty"`
	Data     map[string]interface{} `json:"-"`
}

// ToEnvelopeError renders err (any error, ideally an *Error) as the
// {status:"error", error_msg:{...}} envelope body.
func ToEnvelopeError(err error) (status int, body map[string]interface{}) {
	ae, ok := As(err)
	if !ok {
		return 500, map[string]interface{}{
			"status":    "error",
			"error_msg": map[string]string{"Internal": err.Error()},
		}
	}
	key := string(ae.Kind)
	if ae.Field != "" {
		key = ae.Field
	}
	return ae.Status(), map[string]interface{}{
		"status":    "error",
		"error_msg": map[string]string{key: ae.Message},
	}
}
