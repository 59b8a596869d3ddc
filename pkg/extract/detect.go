package extract

import (
	"bytes"
	"encoding/xml"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Namespaces of the supported schema families.
const (
	NamespaceNFe          = "http://www.portalfiscal.inf.br/nfe"
	NamespaceCTe          = "http://www.portalfiscal.inf.br/cte"
	NamespaceMDFe         = "http://www.portalfiscal.inf.br/mdfe"
	NamespaceNFSeABRASF   = "http://www.abrasf.org.br/nfse.xsd"
	NamespaceNFSeNacional = "http://www.sped.fazenda.gov.br/nfse"
)

// detectTokenBudget bounds how far the detector streams past the root
// element when a discriminator is needed.
const detectTokenBudget = 4096

// Detect classifies a payload by its root element and namespace. Roots that
// two families share are told apart by streaming forward to one
// discriminator element; no tree is built. Detect never panics and returns
// Unrecognized for anything it cannot classify, including non-XML input.
func Detect(payload []byte) (t fiscal.DocumentType) {
	defer func() {
		if recover() != nil {
			t = fiscal.Unrecognized
		}
	}()

	dec := newDecoder(Clean(payload))
	root, ok := rootElement(dec)
	if !ok {
		return fiscal.Unrecognized
	}

	ns, local := root.Name.Space, root.Name.Local
	switch ns {
	case NamespaceNFe:
		switch local {
		case "nfeProc", "NFe", "enviNFe":
			return invoiceModel(dec)
		case "procEventoNFe", "evento", "envEvento":
			return eventKind(dec)
		}
	case NamespaceCTe:
		switch local {
		case "cteProc", "CTe", "cteOSProc", "CTeOS":
			return fiscal.FreightManifest
		case "procEventoCTe", "eventoCTe":
			return eventKind(dec)
		}
	case NamespaceMDFe:
		switch local {
		case "mdfeProc", "MDFe":
			return fiscal.TransportManifest
		case "procEventoMDFe", "eventoMDFe":
			return eventKind(dec)
		}
	}
	if isServiceInvoice(ns, local) {
		return fiscal.ServiceInvoice
	}
	return fiscal.Unrecognized
}

func newDecoder(p []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(p))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = true
	return dec
}

func rootElement(dec *xml.Decoder) (xml.StartElement, bool) {
	for i := 0; i < detectTokenBudget; i++ {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, false
		}
		switch el := tok.(type) {
		case xml.StartElement:
			return el, true
		case xml.CharData:
			if len(bytes.TrimSpace(el)) > 0 {
				return xml.StartElement{}, false
			}
		}
	}
	return xml.StartElement{}, false
}

// invoiceModel distinguishes model 55 from model 65 using the ide/mod
// element or the model digits of the infNFe Id attribute.
func invoiceModel(dec *xml.Decoder) fiscal.DocumentType {
	for i := 0; i < detectTokenBudget; i++ {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch el.Name.Local {
		case "infNFe":
			for _, a := range el.Attr {
				if a.Name.Local == "Id" {
					key := strings.TrimPrefix(a.Value, "NFe")
					if len(key) == 44 {
						return modelType(key[20:22])
					}
				}
			}
		case "mod":
			return modelType(readText(dec))
		}
	}
	return fiscal.Invoice
}

func modelType(mod string) fiscal.DocumentType {
	if strings.TrimSpace(mod) == "65" {
		return fiscal.ConsumerInvoice
	}
	return fiscal.Invoice
}

// eventKind separates correction letters from every other event.
func eventKind(dec *xml.Decoder) fiscal.DocumentType {
	for i := 0; i < detectTokenBudget; i++ {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch el.Name.Local {
		case "infEvento":
			for _, a := range el.Attr {
				if a.Name.Local == "Id" && len(a.Value) >= 8 && strings.HasPrefix(a.Value, "ID") {
					return eventType(a.Value[2:8])
				}
			}
		case "tpEvento":
			return eventType(readText(dec))
		}
	}
	return fiscal.ExceptionEvent
}

func eventType(code string) fiscal.DocumentType {
	if strings.TrimSpace(code) == fiscal.EventCorrection {
		return fiscal.CorrectionLetter
	}
	return fiscal.ExceptionEvent
}

func isServiceInvoice(ns, local string) bool {
	switch ns {
	case NamespaceNFSeABRASF, NamespaceNFSeNacional:
		return true
	case "":
		return strings.Contains(strings.ToLower(local), "nfse")
	}
	return strings.HasPrefix(ns, "http://www.abrasf.org.br/")
}

func readText(dec *xml.Decoder) string {
	var sb strings.Builder
	for i := 0; i < detectTokenBudget; i++ {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.CharData:
			sb.Write(el)
		case xml.EndElement:
			return strings.TrimSpace(sb.String())
		}
	}
	return strings.TrimSpace(sb.String())
}
