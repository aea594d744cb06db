package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrorKind tags an item failure as either caused by the item's own data
// (business) or by the environment (process).
type ErrorKind int

const (
	KindProcess ErrorKind = iota
	KindBusiness
)

func (k ErrorKind) String() string {
	switch k {
	case KindBusiness:
		return "BusinessError"
	default:
		return "ProcessError"
	}
}

// ErrorRecord is the serialised form of an item failure stored on the queue item.
type ErrorRecord struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// JSON renders the record the way the queue backends persist it.
func (r ErrorRecord) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"type":%q,"message":%q}`, r.Type, r.Message)
	}
	return string(data)
}

// ItemError is an error carrying its failure kind.
type ItemError struct {
	Kind    ErrorKind
	Message string
	Stack   string
	cause   error
}

func (e *ItemError) Error() string {
	return e.Message
}

func (e *ItemError) Unwrap() error {
	return e.cause
}

// Record converts the error into its persisted form.
func (e *ItemError) Record() ErrorRecord {
	return ErrorRecord{
		Type:      e.Kind.String(),
		Message:   e.Message,
		Traceback: e.Stack,
	}
}

// NewBusinessError reports a failure caused by the item's own data.
func NewBusinessError(format string, args ...any) *ItemError {
	return &ItemError{
		Kind:    KindBusiness,
		Message: fmt.Sprintf(format, args...),
		Stack:   string(debug.Stack()),
	}
}

// NewProcessError wraps err as an environmental failure. The stack is taken
// at the call, so call it where the failure happens to keep that site in the
// traceback. An error that is already a process error is returned as is,
// stack included.
func NewProcessError(err error) *ItemError {
	var ie *ItemError
	if errors.As(err, &ie) && ie.Kind == KindProcess {
		return ie
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ItemError{
		Kind:    KindProcess,
		Message: msg,
		Stack:   string(debug.Stack()),
		cause:   err,
	}
}

// KindOf returns the kind carried by err. Untagged errors are process errors.
func KindOf(err error) ErrorKind {
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindProcess
}

// IsBusiness reports whether err carries the business tag.
func IsBusiness(err error) bool {
	return err != nil && KindOf(err) == KindBusiness
}
