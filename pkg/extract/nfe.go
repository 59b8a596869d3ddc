package extract

import (
	"github.com/antchfx/xmlquery"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// extractInvoice handles both NF-e (model 55) and NFC-e (model 65); they
// share a schema.
func extractInvoice(t fiscal.DocumentType, root *xmlquery.Node) (fiscal.Document, error) {
	inf := find(root, "//infNFe")
	if inf == nil {
		return fiscal.Document{}, missing(t, "infNFe")
	}

	raw := text(root, "//protNFe/infProt/chNFe")
	if raw == "" {
		raw = attr(inf, "Id")
	}
	key, err := accessKey(t, raw, "NFe")
	if err != nil {
		return fiscal.Document{}, err
	}

	doc := fiscal.Document{
		AccessKey:     key,
		Number:        text(inf, "ide/nNF"),
		Series:        text(inf, "ide/serie"),
		IssuerID:      text(inf, "emit/CNPJ", "emit/CPF"),
		IssuerName:    text(inf, "emit/xNome", "emit/xFant"),
		RecipientID:   text(inf, "dest/CNPJ", "dest/CPF", "dest/idEstrangeiro"),
		RecipientName: text(inf, "dest/xNome"),
		Protocol:      text(root, "//protNFe/infProt/nProt"),
		Status:        fiscal.StatusFromCode(text(root, "//protNFe/infProt/cStat")),
	}
	setIssueDate(&doc, text(inf, "ide/dhEmi", "ide/dEmi"))

	if doc.TotalValue, err = parseAmount(t, "totalValue", text(inf, "total/ICMSTot/vNF")); err != nil {
		return fiscal.Document{}, err
	}

	doc.SetAttr("operationNature", text(inf, "ide/natOp"))
	doc.SetAttr("model", text(inf, "ide/mod"))
	doc.SetAttr("issuerState", text(inf, "emit/enderEmit/UF"))
	doc.SetAttr("productsValue", text(inf, "total/ICMSTot/vProd"))
	doc.SetAttr("freightValue", text(inf, "total/ICMSTot/vFrete"))
	doc.SetAttr("icmsValue", text(inf, "total/ICMSTot/vICMS"))
	doc.SetAttr("receivedAt", text(root, "//protNFe/infProt/dhRecbto"))

	for i, det := range xmlquery.Find(inf, "det") {
		item, err := invoiceItem(t, det, i+1)
		if err != nil {
			return fiscal.Document{}, err
		}
		doc.Items = append(doc.Items, item)
	}
	return doc, nil
}

func invoiceItem(t fiscal.DocumentType, det *xmlquery.Node, pos int) (fiscal.Item, error) {
	prod := find(det, "prod")
	item := fiscal.Item{
		Number:      atoiDefault(attr(det, "nItem"), pos),
		Code:        text(prod, "cProd"),
		Description: text(prod, "xProd"),
		NCM:         text(prod, "NCM"),
		CFOP:        text(prod, "CFOP"),
		Unit:        text(prod, "uCom", "uTrib"),
	}
	var err error
	if item.Quantity, err = parseAmount(t, "items.quantity", text(prod, "qCom", "qTrib")); err != nil {
		return item, err
	}
	if item.UnitValue, err = parseAmount(t, "items.unitValue", text(prod, "vUnCom", "vUnTrib")); err != nil {
		return item, err
	}
	if item.TotalValue, err = parseAmount(t, "items.totalValue", text(prod, "vProd")); err != nil {
		return item, err
	}
	return item, nil
}
