// Package fiscal defines the normalized document model shared by every
// stage of the ingestion pipeline, the store, and the exporters.
package fiscal

import (
	"fmt"
	"strings"
)

// DocumentType is the closed set of fiscal document families the
// detector can recognize.
type DocumentType uint8

const (
	Unrecognized DocumentType = iota
	Invoice                   // NF-e, model 55
	ConsumerInvoice           // NFC-e, model 65
	FreightManifest           // CT-e
	ServiceInvoice            // NFS-e
	TransportManifest         // MDF-e
	CorrectionLetter          // CC-e, event 110110
	ExceptionEvent            // cancellation, EPEC and other registered events
)

var typeNames = [...]string{
	Unrecognized:      "Unrecognized",
	Invoice:           "Invoice",
	ConsumerInvoice:   "ConsumerInvoice",
	FreightManifest:   "FreightManifest",
	ServiceInvoice:    "ServiceInvoice",
	TransportManifest: "TransportManifest",
	CorrectionLetter:  "CorrectionLetter",
	ExceptionEvent:    "ExceptionEvent",
}

var typeCodes = [...]string{
	Unrecognized:      "unknown",
	Invoice:           "nfe",
	ConsumerInvoice:   "nfce",
	FreightManifest:   "cte",
	ServiceInvoice:    "nfse",
	TransportManifest: "mdfe",
	CorrectionLetter:  "cce",
	ExceptionEvent:    "event",
}

// AllTypes returns every recognized document type in declaration order.
func AllTypes() []DocumentType {
	return []DocumentType{
		Invoice, ConsumerInvoice, FreightManifest, ServiceInvoice,
		TransportManifest, CorrectionLetter, ExceptionEvent,
	}
}

func (t DocumentType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("DocumentType(%d)", uint8(t))
}

// Code returns the short lowercase code used in store keys, URLs and CLI flags.
func (t DocumentType) Code() string {
	if int(t) < len(typeCodes) {
		return typeCodes[t]
	}
	return typeCodes[Unrecognized]
}

// Valid reports whether t is one of the recognized families.
func (t DocumentType) Valid() bool {
	return t > Unrecognized && int(t) < len(typeNames)
}

// IsEvent reports whether documents of this type reference another document.
func (t DocumentType) IsEvent() bool {
	return t == CorrectionLetter || t == ExceptionEvent
}

// ParseDocumentType accepts either the short code or the display name,
// case-insensitively.
func ParseDocumentType(s string) (DocumentType, error) {
	s = strings.TrimSpace(s)
	for _, t := range AllTypes() {
		if strings.EqualFold(s, t.Code()) || strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return Unrecognized, fmt.Errorf("unknown document type %q", s)
}

// MarshalText encodes the type as its short code.
func (t DocumentType) MarshalText() ([]byte, error) {
	return []byte(t.Code()), nil
}

// UnmarshalText decodes a short code or display name.
func (t *DocumentType) UnmarshalText(b []byte) error {
	if strings.EqualFold(string(b), typeCodes[Unrecognized]) {
		*t = Unrecognized
		return nil
	}
	v, err := ParseDocumentType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Status is the authorization state of a document as last known to the store.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusAuthorized
	StatusCancelled
	StatusDenied
)

var statusNames = [...]string{
	StatusUnknown:    "unknown",
	StatusAuthorized: "authorized",
	StatusCancelled:  "cancelled",
	StatusDenied:     "denied",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// StatusFromCode maps an authorization protocol status code (cStat) to a Status.
func StatusFromCode(code string) Status {
	switch strings.TrimSpace(code) {
	case "100", "150":
		return StatusAuthorized
	case "101", "151", "155":
		return StatusCancelled
	case "110", "301", "302", "303":
		return StatusDenied
	default:
		return StatusUnknown
	}
}
