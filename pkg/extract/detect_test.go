package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/fiscalxml/pkg/extract/extracttest"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

func TestDetect(t *testing.T) {
	nfeKey := extracttest.Key(extracttest.ModelNFe, 1)

	tests := []struct {
		name    string
		payload []byte
		want    fiscal.DocumentType
	}{
		{"nfe", extracttest.NFe(nfeKey, "17.50"), fiscal.Invoice},
		{"nfce", extracttest.NFCe(extracttest.Key(extracttest.ModelNFCe, 2), "9.90"), fiscal.ConsumerInvoice},
		{"cte", extracttest.CTe(extracttest.Key(extracttest.ModelCTe, 3), "150.00"), fiscal.FreightManifest},
		{"mdfe", extracttest.MDFe(extracttest.Key(extracttest.ModelMDFe, 4), "5000.00"), fiscal.TransportManifest},
		{"nfse", extracttest.NFSe("77", "500.00"), fiscal.ServiceInvoice},
		{"nfse abrasf 2", readFixture(t, "nfse_abrasf2.xml"), fiscal.ServiceInvoice},
		{"cce", extracttest.Correction(nfeKey, 1), fiscal.CorrectionLetter},
		{"cancellation", extracttest.Cancellation(nfeKey), fiscal.ExceptionEvent},
		{"epec", extracttest.EPEC(nfeKey), fiscal.ExceptionEvent},
		{"nfe without protocol", readFixture(t, "nfe_v2.xml"), fiscal.Invoice},
		{"foreign xml", readFixture(t, "unknown.xml"), fiscal.Unrecognized},
		{"unknown namespace", []byte(`<nfeProc xmlns="urn:other"><NFe/></nfeProc>`), fiscal.Unrecognized},
		{"plain text", []byte("this is not xml"), fiscal.Unrecognized},
		{"empty", nil, fiscal.Unrecognized},
		{"binary", []byte{0x50, 0x4B, 0x03, 0x04, 0xFF, 0x00}, fiscal.Unrecognized},
		{"un-namespaced nfse", []byte(`<Nfse><InfNfse><Numero>1</Numero></InfNfse></Nfse>`), fiscal.ServiceInvoice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.payload))
		})
	}
}

func TestDetectStripsBOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, extracttest.NFe(extracttest.Key(extracttest.ModelNFe, 9), "1.00")...)
	assert.Equal(t, fiscal.Invoice, Detect(payload))
}

func TestCleanTranscodesMislabelledLatin1(t *testing.T) {
	// 0xC9 is 'É' in windows-1252 and invalid as a lone UTF-8 byte.
	in := []byte("<?xml version=\"1.0\" encoding=\"UTF-8\"?><a>CAF\xC9\x01</a>")
	out := Clean(in)
	assert.Equal(t, "<?xml version=\"1.0\" encoding=\"UTF-8\"?><a>CAFÉ</a>", string(out))

	declared := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><a>CAF\xC9</a>")
	assert.Equal(t, declared, Clean(declared))
}
