package codec

import (
	"fmt"
	"reflect"
)

// ParseError reports text that is not a valid serialized value.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("codec: parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FormatError reports a tagged timestamp whose content does not match DatetimeLayout.
type FormatError struct {
	Path  string
	Value any
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("codec: %s: bad %s value %#v: %v", e.Path, DatetimeKey, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports a value that cannot be encoded.
type UnsupportedTypeError struct {
	Path   string
	Type   reflect.Type
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	msg := fmt.Sprintf("codec: %s: unsupported value of type %v", e.Path, e.Type)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}
