package extract

import (
	"errors"
	"fmt"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// ErrUnrecognized is returned when the detector cannot classify a payload.
var ErrUnrecognized = errors.New("unrecognized fiscal document")

// ErrorKind classifies extraction failures.
type ErrorKind uint8

const (
	MissingField ErrorKind = iota + 1
	MalformedStructure
)

func (k ErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case MalformedStructure:
		return "malformed structure"
	default:
		return "extraction error"
	}
}

// ExtractionError reports a mandatory field that was absent or invalid.
type ExtractionError struct {
	Kind  ErrorKind
	Type  fiscal.DocumentType
	Field string
	Err   error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("%s: %s %q", e.Type.Code(), e.Kind, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func missing(t fiscal.DocumentType, field string) error {
	return &ExtractionError{Kind: MissingField, Type: t, Field: field}
}

func malformed(t fiscal.DocumentType, field string, err error) error {
	return &ExtractionError{Kind: MalformedStructure, Type: t, Field: field, Err: err}
}
