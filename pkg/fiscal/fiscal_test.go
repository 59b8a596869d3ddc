package fiscal

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentType(t *testing.T) {
	tests := []struct {
		in   string
		want DocumentType
	}{
		{"nfe", Invoice},
		{"NFCe", ConsumerInvoice},
		{"FreightManifest", FreightManifest},
		{"nfse", ServiceInvoice},
		{" mdfe ", TransportManifest},
		{"cce", CorrectionLetter},
		{"event", ExceptionEvent},
	}
	for _, tt := range tests {
		got, err := ParseDocumentType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseDocumentType("boleto")
	assert.Error(t, err)
}

func TestTypeFlags(t *testing.T) {
	assert.False(t, Unrecognized.Valid())
	for _, typ := range AllTypes() {
		assert.True(t, typ.Valid(), typ.String())
	}
	assert.True(t, CorrectionLetter.IsEvent())
	assert.True(t, ExceptionEvent.IsEvent())
	assert.False(t, Invoice.IsEvent())
}

func TestStatusFromCode(t *testing.T) {
	assert.Equal(t, StatusAuthorized, StatusFromCode("100"))
	assert.Equal(t, StatusAuthorized, StatusFromCode("150"))
	assert.Equal(t, StatusCancelled, StatusFromCode("101"))
	assert.Equal(t, StatusDenied, StatusFromCode("302"))
	assert.Equal(t, StatusUnknown, StatusFromCode(""))
	assert.Equal(t, StatusUnknown, StatusFromCode("204"))
}

func TestAddSourceKeepsHistoryUnique(t *testing.T) {
	var d Document
	d.AddSource("a.xml")
	d.AddSource("b.zip!x.xml")
	d.AddSource("a.xml")

	assert.Equal(t, "a.xml", d.SourcePath)
	assert.Equal(t, []string{"a.xml", "b.zip!x.xml"}, d.Sources)
}

func TestEventTransition(t *testing.T) {
	nfeKey := "35240112345678000199550010000001231000001234"
	mdfeKey := "35240112345678000199580010000001231000001234"

	base := Document{Type: Invoice, Status: StatusAuthorized}
	cancel := Document{ReferencedKey: nfeKey, EventCode: EventCancellation, Status: StatusAuthorized}
	assert.True(t, TransitionOf(&cancel).Apply(&base, &cancel))
	assert.Equal(t, StatusCancelled, base.Status)

	closure := Document{ReferencedKey: mdfeKey, EventCode: EventSubstitution}
	assert.False(t, TransitionOf(&closure).ChangesStatus)

	base = Document{Status: StatusAuthorized}
	cce := Document{ReferencedKey: nfeKey, EventCode: EventCorrection}
	assert.True(t, TransitionOf(&cce).Apply(&base, &cce))
	assert.True(t, base.Corrected)
	assert.Equal(t, StatusAuthorized, base.Status)

	denied := Document{ReferencedKey: nfeKey, EventCode: EventCancellation, Status: StatusDenied}
	base = Document{Status: StatusAuthorized}
	assert.False(t, TransitionOf(&denied).Apply(&base, &denied))
	assert.Equal(t, StatusAuthorized, base.Status)
}

func TestDocumentJSONKeepsNullTotal(t *testing.T) {
	d := Document{Type: TransportManifest, AccessKey: "k", Status: StatusAuthorized}
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"totalValue":null`))
	assert.True(t, strings.Contains(string(b), `"type":"mdfe"`))

	d.TotalValue = decimal.NewNullDecimal(decimal.RequireFromString("10.50"))
	b, err = json.Marshal(d)
	require.NoError(t, err)

	var back Document
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.TotalValue.Valid)
	assert.Equal(t, "10.5", back.TotalValue.Decimal.String())
	assert.Equal(t, TransportManifest, back.Type)
}
