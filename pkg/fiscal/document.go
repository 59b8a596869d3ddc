package fiscal

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies a document in the store. Two documents with the same key
// describe the same fiscal fact.
type Key struct {
	Type      DocumentType `json:"type"`
	AccessKey string       `json:"accessKey"`
}

func (k Key) String() string {
	return k.Type.Code() + "/" + k.AccessKey
}

// Item is one line of a document, in document order.
type Item struct {
	Number      int                 `json:"number"`
	Code        string              `json:"code,omitempty"`
	Description string              `json:"description,omitempty"`
	NCM         string              `json:"ncm,omitempty"`
	CFOP        string              `json:"cfop,omitempty"`
	Unit        string              `json:"unit,omitempty"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitValue   decimal.NullDecimal `json:"unitValue"`
	TotalValue  decimal.NullDecimal `json:"totalValue"`
}

// Document is the uniform record produced by extraction regardless of the
// source schema.
type Document struct {
	Type      DocumentType `json:"type"`
	AccessKey string       `json:"accessKey"`
	Number    string       `json:"number,omitempty"`
	Series    string       `json:"series,omitempty"`

	IssuerID      string `json:"issuerId,omitempty"`
	IssuerName    string `json:"issuerName,omitempty"`
	RecipientID   string `json:"recipientId,omitempty"`
	RecipientName string `json:"recipientName,omitempty"`

	IssueDate      *time.Time `json:"issueDate,omitempty"`
	DateIncomplete bool       `json:"dateIncomplete,omitempty"`

	// TotalValue is null when the source carried no total.
	TotalValue decimal.NullDecimal `json:"totalValue"`
	Status     Status              `json:"status"`
	Protocol   string              `json:"protocol,omitempty"`
	Items      []Item              `json:"items,omitempty"`

	// Event documents only.
	ReferencedKey     string `json:"referencedKey,omitempty"`
	EventCode         string `json:"eventCode,omitempty"`
	EventSequence     int    `json:"eventSequence,omitempty"`
	ReferenceResolved bool   `json:"referenceResolved,omitempty"`

	// Corrected is set on a base document once a correction letter applies to it.
	Corrected  bool              `json:"corrected,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	RawHash    string    `json:"rawHash"`
	SourcePath string    `json:"sourcePath"`
	Sources    []string  `json:"sources,omitempty"`
	FirstSeen  time.Time `json:"firstSeen"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Key returns the identity of the document.
func (d *Document) Key() Key {
	return Key{Type: d.Type, AccessKey: d.AccessKey}
}

// AddSource records an observed origin, keeping the history unique and in
// observation order. SourcePath always reflects the latest origin.
func (d *Document) AddSource(path string) {
	if path == "" {
		return
	}
	d.SourcePath = path
	for _, s := range d.Sources {
		if s == path {
			return
		}
	}
	d.Sources = append(d.Sources, path)
}

// SetAttr stores a non-empty type-specific attribute.
func (d *Document) SetAttr(name, value string) {
	if value == "" {
		return
	}
	if d.Attributes == nil {
		d.Attributes = make(map[string]string)
	}
	d.Attributes[name] = value
}

// ItemCount returns the number of line items.
func (d *Document) ItemCount() int {
	return len(d.Items)
}

// HashPayload returns the hex sha256 of raw document bytes.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
