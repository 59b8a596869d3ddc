package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/fiscalxml/pkg/extract/extracttest"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

func TestExtractInvoice(t *testing.T) {
	key := extracttest.Key(extracttest.ModelNFe, 123)
	payload := extracttest.NFe(key, "17.50")

	doc, err := Parse(payload)
	require.NoError(t, err)

	assert.Equal(t, fiscal.Invoice, doc.Type)
	assert.Equal(t, key, doc.AccessKey)
	assert.Equal(t, "123", doc.Number)
	assert.Equal(t, "1", doc.Series)
	assert.Equal(t, "12345678000199", doc.IssuerID)
	assert.Equal(t, "EMPRESA EMITENTE LTDA", doc.IssuerName)
	assert.Equal(t, "12345678909", doc.RecipientID)
	assert.Equal(t, fiscal.StatusAuthorized, doc.Status)
	assert.Equal(t, "135240000000001", doc.Protocol)
	require.NotNil(t, doc.IssueDate)
	assert.Equal(t, 2024, doc.IssueDate.Year())
	assert.False(t, doc.DateIncomplete)
	require.True(t, doc.TotalValue.Valid)
	assert.Equal(t, "17.5", doc.TotalValue.Decimal.String())
	assert.Equal(t, fiscal.HashPayload(payload), doc.RawHash)
	assert.Equal(t, "VENDA DE MERCADORIA", doc.Attributes["operationNature"])

	require.Len(t, doc.Items, 2)
	assert.Equal(t, 1, doc.Items[0].Number)
	assert.Equal(t, "P001", doc.Items[0].Code)
	assert.Equal(t, "5102", doc.Items[0].CFOP)
	assert.Equal(t, "10", doc.Items[0].Quantity.Decimal.String())
	assert.Equal(t, "PORCA", doc.Items[1].Description)
}

func TestExtractIsDeterministic(t *testing.T) {
	payload := extracttest.NFe(extracttest.Key(extracttest.ModelNFe, 5), "10.00")
	a, err := Parse(payload)
	require.NoError(t, err)
	b, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractOlderRevisionFallbacks(t *testing.T) {
	doc, err := Parse(readFixture(t, "nfe_v2.xml"))
	require.NoError(t, err)

	assert.Equal(t, "35100112345678000199550010000000421000000421", doc.AccessKey)
	assert.Equal(t, fiscal.StatusUnknown, doc.Status)
	require.NotNil(t, doc.IssueDate)
	assert.Equal(t, 2010, doc.IssueDate.Year())
	assert.Equal(t, "98765432000155", doc.RecipientID)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "KG", doc.Items[0].Unit)
	assert.Equal(t, "2.5", doc.Items[0].Quantity.Decimal.String())
}

func TestExtractPrefixedElements(t *testing.T) {
	payload := readFixture(t, "nfe_prefixed.xml")
	assert.Equal(t, fiscal.Invoice, Detect(payload))

	doc, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "35100112345678000199550010000000421000000421", doc.AccessKey)
	assert.Equal(t, "42", doc.Number)
	assert.Equal(t, "EMPRESA PREFIXADA", doc.IssuerName)
	assert.Equal(t, fiscal.StatusAuthorized, doc.Status)
	assert.Equal(t, "135240000000042", doc.Protocol)
	assert.Equal(t, "15", doc.TotalValue.Decimal.String())
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "A1", doc.Items[0].Code)
	assert.Equal(t, "3", doc.Items[0].Quantity.Decimal.String())
}

func TestExtractConsumerInvoice(t *testing.T) {
	key := extracttest.Key(extracttest.ModelNFCe, 8)
	doc, err := Parse(extracttest.NFCe(key, "9.90"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.ConsumerInvoice, doc.Type)
	assert.Equal(t, key, doc.AccessKey)
}

func TestExtractFreightAndTransport(t *testing.T) {
	cteKey := extracttest.Key(extracttest.ModelCTe, 456)
	cte, err := Parse(extracttest.CTe(cteKey, "150.00"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.FreightManifest, cte.Type)
	assert.Equal(t, cteKey, cte.AccessKey)
	assert.Equal(t, "456", cte.Number)
	assert.Equal(t, "55666777000188", cte.RecipientID)
	assert.Equal(t, "150", cte.TotalValue.Decimal.String())
	assert.Empty(t, cte.Items)

	mdfeKey := extracttest.Key(extracttest.ModelMDFe, 789)
	mdfe, err := Parse(extracttest.MDFe(mdfeKey, "5000.00"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.TransportManifest, mdfe.Type)
	assert.Equal(t, mdfeKey, mdfe.AccessKey)
	assert.Empty(t, mdfe.RecipientID)
	assert.Equal(t, "MG", mdfe.Attributes["destinationState"])
}

func TestExtractServiceInvoice(t *testing.T) {
	doc, err := Parse(extracttest.NFSe("77", "500.00"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.ServiceInvoice, doc.Type)
	assert.Equal(t, "1234567800019977", doc.AccessKey)
	assert.Equal(t, "SOFTWARE HOUSE LTDA", doc.IssuerName)
	assert.Equal(t, "99888777000166", doc.RecipientID)
	assert.Equal(t, fiscal.StatusAuthorized, doc.Status)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "SUPORTE TECNICO", doc.Items[0].Description)

	v2, err := Parse(readFixture(t, "nfse_abrasf2.xml"))
	require.NoError(t, err)
	assert.Equal(t, "445556660001772001", v2.AccessKey)
	assert.Equal(t, "11122233344", v2.RecipientID)
	assert.Equal(t, fiscal.StatusCancelled, v2.Status)
	assert.Equal(t, "200", v2.TotalValue.Decimal.String())
}

func TestExtractEvents(t *testing.T) {
	ref := extracttest.Key(extracttest.ModelNFe, 1)

	cce, err := Parse(extracttest.Correction(ref, 2))
	require.NoError(t, err)
	assert.Equal(t, fiscal.CorrectionLetter, cce.Type)
	assert.Equal(t, "110110"+ref+"02", cce.AccessKey)
	assert.Equal(t, ref, cce.ReferencedKey)
	assert.Equal(t, 2, cce.EventSequence)
	assert.Equal(t, fiscal.StatusAuthorized, cce.Status)
	assert.False(t, cce.TotalValue.Valid)
	assert.Equal(t, "CORRIGIR ENDERECO DE ENTREGA", cce.Attributes["correction"])

	cancel, err := Parse(extracttest.Cancellation(ref))
	require.NoError(t, err)
	assert.Equal(t, fiscal.ExceptionEvent, cancel.Type)
	assert.Equal(t, fiscal.EventCancellation, cancel.EventCode)
}

func TestExtractErrors(t *testing.T) {
	t.Run("unrecognized", func(t *testing.T) {
		_, err := Parse([]byte(`<rss/>`))
		assert.ErrorIs(t, err, ErrUnrecognized)
	})

	t.Run("malformed xml", func(t *testing.T) {
		_, err := Parse(extracttest.Malformed())
		var ee *ExtractionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, MalformedStructure, ee.Kind)
	})

	t.Run("missing access key", func(t *testing.T) {
		payload := []byte(`<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe><ide><nNF>1</nNF></ide></infNFe></NFe>`)
		_, err := Parse(payload)
		var ee *ExtractionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, MissingField, ee.Kind)
		assert.Equal(t, "accessKey", ee.Field)
	})

	t.Run("invalid access key", func(t *testing.T) {
		payload := []byte(`<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="NFe123ABC"/></NFe>`)
		_, err := Parse(payload)
		var ee *ExtractionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, MalformedStructure, ee.Kind)
	})

	t.Run("missing root structure", func(t *testing.T) {
		payload := []byte(`<mdfeProc xmlns="http://www.portalfiscal.inf.br/mdfe"><MDFe/></mdfeProc>`)
		_, err := Parse(payload)
		var ee *ExtractionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, MissingField, ee.Kind)
		assert.Equal(t, "infMDFe", ee.Field)
	})

	t.Run("bad amount", func(t *testing.T) {
		_, err := Parse(extracttest.NFe(extracttest.Key(extracttest.ModelNFe, 3), "abc"))
		var ee *ExtractionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, "totalValue", ee.Field)
	})

	t.Run("event without reference", func(t *testing.T) {
		payload := []byte(`<procEventoNFe xmlns="http://www.portalfiscal.inf.br/nfe"><evento><infEvento><tpEvento>110111</tpEvento></infEvento></evento></procEventoNFe>`)
		_, err := Parse(payload)
		var ee *ExtractionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, "referencedKey", ee.Field)
	})
}

func TestMissingOptionalFieldsYieldNulls(t *testing.T) {
	key := extracttest.Key(extracttest.ModelNFe, 44)
	payload := []byte(`<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="NFe` + key + `"><ide><dhEmi>not a date</dhEmi></ide></infNFe></NFe>`)
	doc, err := Parse(payload)
	require.NoError(t, err)
	assert.False(t, doc.TotalValue.Valid)
	assert.Nil(t, doc.IssueDate)
	assert.True(t, doc.DateIncomplete)
	assert.Empty(t, doc.Items)
}

func TestForCoversEveryType(t *testing.T) {
	for _, typ := range fiscal.AllTypes() {
		ex, err := For(typ)
		require.NoError(t, err, typ.String())
		assert.Equal(t, typ, ex.Type())
	}
	_, err := For(fiscal.Unrecognized)
	assert.ErrorIs(t, err, ErrUnrecognized)
}
