package extract

import (
	"github.com/antchfx/xmlquery"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

func extractFreight(t fiscal.DocumentType, root *xmlquery.Node) (fiscal.Document, error) {
	inf := find(root, "//infCte")
	if inf == nil {
		return fiscal.Document{}, missing(t, "infCte")
	}

	raw := text(root, "//protCTe/infProt/chCTe")
	if raw == "" {
		raw = attr(inf, "Id")
	}
	key, err := accessKey(t, raw, "CTe")
	if err != nil {
		return fiscal.Document{}, err
	}

	doc := fiscal.Document{
		AccessKey:     key,
		Number:        text(inf, "ide/nCT"),
		Series:        text(inf, "ide/serie"),
		IssuerID:      text(inf, "emit/CNPJ", "emit/CPF"),
		IssuerName:    text(inf, "emit/xNome"),
		RecipientID:   text(inf, "dest/CNPJ", "dest/CPF", "toma/CNPJ", "toma/CPF"),
		RecipientName: text(inf, "dest/xNome", "toma/xNome"),
		Protocol:      text(root, "//protCTe/infProt/nProt"),
		Status:        fiscal.StatusFromCode(text(root, "//protCTe/infProt/cStat")),
	}
	setIssueDate(&doc, text(inf, "ide/dhEmi", "ide/dEmi"))

	if doc.TotalValue, err = parseAmount(t, "totalValue", text(inf, "vPrest/vTPrest")); err != nil {
		return fiscal.Document{}, err
	}

	doc.SetAttr("modal", text(inf, "ide/modal"))
	doc.SetAttr("cfop", text(inf, "ide/CFOP"))
	doc.SetAttr("originCity", text(inf, "ide/xMunIni"))
	doc.SetAttr("destinationCity", text(inf, "ide/xMunFim"))
	doc.SetAttr("cargoValue", text(inf, "infCTeNorm/infCarga/vCarga"))
	return doc, nil
}
