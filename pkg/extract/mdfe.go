package extract

import (
	"github.com/antchfx/xmlquery"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

func extractTransport(t fiscal.DocumentType, root *xmlquery.Node) (fiscal.Document, error) {
	inf := find(root, "//infMDFe")
	if inf == nil {
		return fiscal.Document{}, missing(t, "infMDFe")
	}

	raw := text(root, "//protMDFe/infProt/chMDFe")
	if raw == "" {
		raw = attr(inf, "Id")
	}
	key, err := accessKey(t, raw, "MDFe")
	if err != nil {
		return fiscal.Document{}, err
	}

	doc := fiscal.Document{
		AccessKey:  key,
		Number:     text(inf, "ide/nMDF"),
		Series:     text(inf, "ide/serie"),
		IssuerID:   text(inf, "emit/CNPJ", "emit/CPF"),
		IssuerName: text(inf, "emit/xNome"),
		Protocol:   text(root, "//protMDFe/infProt/nProt"),
		Status:     fiscal.StatusFromCode(text(root, "//protMDFe/infProt/cStat")),
	}
	setIssueDate(&doc, text(inf, "ide/dhEmi", "ide/dEmi"))

	if doc.TotalValue, err = parseAmount(t, "totalValue", text(inf, "tot/vCarga")); err != nil {
		return fiscal.Document{}, err
	}

	doc.SetAttr("modal", text(inf, "ide/modal"))
	doc.SetAttr("originState", text(inf, "ide/UFIni"))
	doc.SetAttr("destinationState", text(inf, "ide/UFFim"))
	doc.SetAttr("linkedInvoices", text(inf, "tot/qNFe"))
	doc.SetAttr("linkedFreight", text(inf, "tot/qCTe"))
	return doc, nil
}
