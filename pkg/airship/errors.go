package airship

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxRawMessage caps how much of an unstructured error body lands in Error.Message.
const maxRawMessage = 256

// Error kinds. Every *Error unwraps to exactly one of these.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuth          = errors.New("credentials rejected")
	ErrNotFound      = errors.New("not found")
	ErrRemote        = errors.New("remote error")
	ErrTransport     = errors.New("transport error")
	ErrNotConfigured = errors.New("not configured")
)

// Error is returned by every API call. Kind is one of the sentinels above;
// Status, Message, Code and OperationID are filled from the HTTP response
// when there was one.
type Error struct {
	Kind        error
	Op          string
	Status      int
	Message     string
	Code        int
	OperationID string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("airship")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, ": http %d", e.Status)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func ValidationError(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func TransportError(op string, err error) error {
	return &Error{Kind: ErrTransport, Op: op, Err: err}
}

// errorBody is the failure document Airship returns on non-2xx responses.
type errorBody struct {
	OK          *bool  `json:"ok"`
	Error       string `json:"error"`
	ErrorCode   int    `json:"error_code"`
	OperationID string `json:"operation_id"`
	Details     struct {
		Error string `json:"error"`
	} `json:"details"`
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(op string, status int, body errorBody, raw []byte) error {
	e := &Error{
		Op:          op,
		Status:      status,
		Message:     body.Error,
		Code:        body.ErrorCode,
		OperationID: body.OperationID,
	}
	if e.Message == "" {
		e.Message = body.Details.Error
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
		e.Message = truncate(e.Message, maxRawMessage)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = ErrAuth
	case http.StatusNotFound:
		e.Kind = ErrNotFound
	default:
		e.Kind = ErrRemote
	}
	return e
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
