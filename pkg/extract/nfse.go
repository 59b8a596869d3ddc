package extract

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/shopspring/decimal"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

const maxServiceKeyLen = 60

// extractService covers the ABRASF municipal layouts (1.0 and 2.x) and the
// national NFS-e layout. ABRASF invoices carry no access key, so one is
// derived from the provider id and the invoice number.
func extractService(t fiscal.DocumentType, root *xmlquery.Node) (fiscal.Document, error) {
	if inf := find(root, "//infNFSe"); inf != nil {
		return nationalService(t, root, inf)
	}
	inf := find(root, "//InfNfse")
	if inf == nil {
		return fiscal.Document{}, missing(t, "InfNfse")
	}

	doc := fiscal.Document{
		Number: text(inf, "Numero"),
		IssuerID: text(root,
			"//PrestadorServico/IdentificacaoPrestador/CpfCnpj/Cnpj",
			"//PrestadorServico/IdentificacaoPrestador/CpfCnpj/Cpf",
			"//PrestadorServico/IdentificacaoPrestador/Cnpj",
			"//Prestador/CpfCnpj/Cnpj",
			"//Prestador/Cnpj",
		),
		IssuerName: text(root, "//PrestadorServico/RazaoSocial", "//PrestadorServico/NomeFantasia"),
		RecipientID: text(root,
			"//TomadorServico/IdentificacaoTomador/CpfCnpj/Cnpj",
			"//TomadorServico/IdentificacaoTomador/CpfCnpj/Cpf",
			"//Tomador/IdentificacaoTomador/CpfCnpj/Cnpj",
			"//Tomador/IdentificacaoTomador/CpfCnpj/Cpf",
		),
		RecipientName: text(root, "//TomadorServico/RazaoSocial", "//Tomador/RazaoSocial"),
		Status:        fiscal.StatusAuthorized,
	}
	if find(root, "//NfseCancelamento", "//CancelamentoNfse") != nil {
		doc.Status = fiscal.StatusCancelled
	}

	key := alnumOnly(doc.IssuerID) + alnumOnly(doc.Number)
	if doc.Number == "" || doc.IssuerID == "" {
		return fiscal.Document{}, missing(t, "accessKey")
	}
	if !isAlnum(key, maxServiceKeyLen) {
		return fiscal.Document{}, malformed(t, "accessKey", fmt.Errorf("invalid service invoice key %q", key))
	}
	doc.AccessKey = key
	setIssueDate(&doc, text(inf, "DataEmissao", "DataEmissaoRps"))

	var err error
	if doc.TotalValue, err = parseAmount(t, "totalValue", text(root, "//Servico/Valores/ValorServicos")); err != nil {
		return fiscal.Document{}, err
	}

	doc.SetAttr("verificationCode", text(inf, "CodigoVerificacao"))
	doc.SetAttr("issValue", text(root, "//Servico/Valores/ValorIss", "//ValoresNfse/ValorIss"))
	doc.SetAttr("netValue", text(root, "//ValoresNfse/ValorLiquidoNfse", "//Servico/Valores/ValorLiquidoNfse"))
	doc.SetAttr("city", text(root, "//Servico/CodigoMunicipio", "//OrgaoGerador/CodigoMunicipio"))

	doc.Items = serviceItem(doc.TotalValue,
		text(root, "//Servico/ItemListaServico", "//Servico/CodigoTributacaoMunicipio"),
		text(root, "//Servico/Discriminacao"),
	)
	return doc, nil
}

func nationalService(t fiscal.DocumentType, root, inf *xmlquery.Node) (fiscal.Document, error) {
	raw := strings.TrimPrefix(attr(inf, "Id"), "NFS")
	if raw == "" {
		return fiscal.Document{}, missing(t, "accessKey")
	}
	if !isAlnum(raw, maxServiceKeyLen) {
		return fiscal.Document{}, malformed(t, "accessKey", fmt.Errorf("invalid service invoice key %q", raw))
	}

	doc := fiscal.Document{
		AccessKey:     raw,
		Number:        text(inf, "nNFSe"),
		IssuerID:      text(inf, "emit/CNPJ", "emit/CPF"),
		IssuerName:    text(inf, "emit/xNome"),
		RecipientID:   text(root, "//infDPS/toma/CNPJ", "//infDPS/toma/CPF"),
		RecipientName: text(root, "//infDPS/toma/xNome"),
		Status:        fiscal.StatusFromCode(text(inf, "cStat")),
	}
	setIssueDate(&doc, text(root, "//infDPS/dhEmi", "//infNFSe/dhProc"))

	var err error
	if doc.TotalValue, err = parseAmount(t, "totalValue", text(root, "//infDPS/valores/vServPrest/vServ", "//infNFSe/valores/vLiq")); err != nil {
		return fiscal.Document{}, err
	}
	doc.SetAttr("issValue", text(inf, "valores/vISSQN"))
	doc.SetAttr("city", text(inf, "cLocIncid", "xLocEmi"))

	doc.Items = serviceItem(doc.TotalValue,
		text(root, "//infDPS/serv/cServ/cTribNac"),
		text(root, "//infDPS/serv/cServ/xDescServ"),
	)
	return doc, nil
}

// serviceItem renders the service description as a single line.
func serviceItem(total decimal.NullDecimal, code, desc string) []fiscal.Item {
	if code == "" && desc == "" && !total.Valid {
		return nil
	}
	return []fiscal.Item{{
		Number:      1,
		Code:        code,
		Description: desc,
		Quantity:    decimal.NewNullDecimal(decimal.NewFromInt(1)),
		UnitValue:   total,
		TotalValue:  total,
	}}
}
