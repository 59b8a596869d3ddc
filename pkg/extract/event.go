package extract

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// extractEvent handles registered events of every family. The event's own
// key is the infEvento Id without its "ID" prefix: 52 digits of event
// code, referenced key and sequence.
func extractEvent(t fiscal.DocumentType, root *xmlquery.Node) (fiscal.Document, error) {
	inf := find(root, "//infEvento")
	if inf == nil {
		return fiscal.Document{}, missing(t, "infEvento")
	}

	code := text(inf, "tpEvento")
	if code == "" {
		return fiscal.Document{}, missing(t, "eventCode")
	}
	ref := text(inf, "chNFe", "chCTe", "chMDFe")
	if ref == "" {
		return fiscal.Document{}, missing(t, "referencedKey")
	}
	if !isDigits(ref, 44) {
		return fiscal.Document{}, malformed(t, "referencedKey", fmt.Errorf("expected 44 digits, got %q", ref))
	}
	seq := atoiDefault(text(inf, "nSeqEvento"), 1)

	key := strings.TrimPrefix(attr(inf, "Id"), "ID")
	if key == "" {
		key = fmt.Sprintf("%s%s%02d", code, ref, seq)
	}
	if !isDigits(key, 52) {
		return fiscal.Document{}, malformed(t, "accessKey", fmt.Errorf("expected 52 digits, got %q", key))
	}

	doc := fiscal.Document{
		AccessKey:     key,
		ReferencedKey: ref,
		EventCode:     code,
		EventSequence: seq,
		IssuerID:      text(inf, "CNPJ", "CPF"),
		Protocol:      text(root, "//retEvento/infEvento/nProt", "//retEventoCTe/infEvento/nProt", "//retEventoMDFe/infEvento/nProt"),
		Status:        eventStatus(text(root, "//retEvento/infEvento/cStat", "//retEventoCTe/infEvento/cStat", "//retEventoMDFe/infEvento/cStat")),
	}
	setIssueDate(&doc, text(inf, "dhEvento"))

	var err error
	if doc.TotalValue, err = parseAmount(t, "totalValue", text(inf, "detEvento/vNF")); err != nil {
		return fiscal.Document{}, err
	}
	doc.RecipientID = text(inf, "detEvento/dest/CNPJ", "detEvento/dest/CPF")

	doc.SetAttr("description", text(inf, "detEvento/descEvento"))
	doc.SetAttr("correction", text(inf, "detEvento/xCorrecao"))
	doc.SetAttr("justification", text(inf, "detEvento/xJust"))
	return doc, nil
}

// eventStatus maps the event registration result: 135 and 136 register
// the event, any other answer rejects it.
func eventStatus(cStat string) fiscal.Status {
	switch cStat {
	case "":
		return fiscal.StatusUnknown
	case "135", "136":
		return fiscal.StatusAuthorized
	default:
		return fiscal.StatusDenied
	}
}
