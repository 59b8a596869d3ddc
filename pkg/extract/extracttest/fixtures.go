// Package extracttest builds well-formed fiscal XML payloads for tests.
package extracttest

import "fmt"

// Models embedded in access keys.
const (
	ModelNFe  = "55"
	ModelNFCe = "65"
	ModelCTe  = "57"
	ModelMDFe = "58"
)

// Key returns a syntactically valid 44-digit access key for the model and
// sequence number n.
func Key(model string, n int) string {
	return fmt.Sprintf("352401%s%s001%09d1%08d%d", "12345678000199", model, n, n, n%10)
}

// NFe returns an authorized model 55 invoice with two items.
func NFe(key, total string) []byte {
	return Invoice(key, ModelNFe, total, "100")
}

// NFCe returns an authorized model 65 consumer invoice.
func NFCe(key, total string) []byte {
	return Invoice(key, ModelNFCe, total, "100")
}

// Invoice returns an nfeProc payload with the given model and protocol status.
func Invoice(key, model, total, cStat string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">
  <NFe>
    <infNFe Id="NFe%[1]s" versao="4.00">
      <ide>
        <cUF>35</cUF>
        <natOp>VENDA DE MERCADORIA</natOp>
        <mod>%[2]s</mod>
        <serie>1</serie>
        <nNF>123</nNF>
        <dhEmi>2024-01-15T10:30:00-03:00</dhEmi>
      </ide>
      <emit>
        <CNPJ>12345678000199</CNPJ>
        <xNome>EMPRESA EMITENTE LTDA</xNome>
        <enderEmit><UF>SP</UF></enderEmit>
      </emit>
      <dest>
        <CPF>12345678909</CPF>
        <xNome>CLIENTE FINAL</xNome>
      </dest>
      <det nItem="1">
        <prod>
          <cProd>P001</cProd>
          <xProd>PARAFUSO</xProd>
          <NCM>73181500</NCM>
          <CFOP>5102</CFOP>
          <uCom>UN</uCom>
          <qCom>10.0000</qCom>
          <vUnCom>1.5000</vUnCom>
          <vProd>15.00</vProd>
        </prod>
      </det>
      <det nItem="2">
        <prod>
          <cProd>P002</cProd>
          <xProd>PORCA</xProd>
          <NCM>73181600</NCM>
          <CFOP>5102</CFOP>
          <uCom>UN</uCom>
          <qCom>5.0000</qCom>
          <vUnCom>0.5000</vUnCom>
          <vProd>2.50</vProd>
        </prod>
      </det>
      <total>
        <ICMSTot>
          <vProd>17.50</vProd>
          <vFrete>0.00</vFrete>
          <vNF>%[3]s</vNF>
        </ICMSTot>
      </total>
    </infNFe>
  </NFe>
  <protNFe versao="4.00">
    <infProt>
      <chNFe>%[1]s</chNFe>
      <dhRecbto>2024-01-15T10:31:00-03:00</dhRecbto>
      <nProt>135240000000001</nProt>
      <cStat>%[4]s</cStat>
    </infProt>
  </protNFe>
</nfeProc>
`, key, model, total, cStat))
}

// CTe returns an authorized freight manifest.
func CTe(key, total string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<cteProc xmlns="http://www.portalfiscal.inf.br/cte" versao="4.00">
  <CTe>
    <infCte Id="CTe%[1]s" versao="4.00">
      <ide>
        <CFOP>5353</CFOP>
        <mod>57</mod>
        <serie>1</serie>
        <nCT>456</nCT>
        <dhEmi>2024-02-01T08:00:00-03:00</dhEmi>
        <modal>01</modal>
        <xMunIni>SAO PAULO</xMunIni>
        <xMunFim>CAMPINAS</xMunFim>
      </ide>
      <emit>
        <CNPJ>11222333000144</CNPJ>
        <xNome>TRANSPORTADORA RAPIDA</xNome>
      </emit>
      <dest>
        <CNPJ>55666777000188</CNPJ>
        <xNome>DESTINATARIO SA</xNome>
      </dest>
      <vPrest>
        <vTPrest>%[2]s</vTPrest>
      </vPrest>
    </infCte>
  </CTe>
  <protCTe versao="4.00">
    <infProt>
      <chCTe>%[1]s</chCTe>
      <nProt>135240000000002</nProt>
      <cStat>100</cStat>
    </infProt>
  </protCTe>
</cteProc>
`, key, total))
}

// MDFe returns an authorized transport manifest.
func MDFe(key, cargo string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<mdfeProc xmlns="http://www.portalfiscal.inf.br/mdfe" versao="3.00">
  <MDFe>
    <infMDFe Id="MDFe%[1]s" versao="3.00">
      <ide>
        <mod>58</mod>
        <serie>1</serie>
        <nMDF>789</nMDF>
        <modal>1</modal>
        <dhEmi>2024-03-10T14:00:00-03:00</dhEmi>
        <UFIni>SP</UFIni>
        <UFFim>MG</UFFim>
      </ide>
      <emit>
        <CNPJ>11222333000144</CNPJ>
        <xNome>TRANSPORTADORA RAPIDA</xNome>
      </emit>
      <tot>
        <qNFe>2</qNFe>
        <vCarga>%[2]s</vCarga>
      </tot>
    </infMDFe>
  </MDFe>
  <protMDFe versao="3.00">
    <infProt>
      <chMDFe>%[1]s</chMDFe>
      <nProt>935240000000003</nProt>
      <cStat>100</cStat>
    </infProt>
  </protMDFe>
</mdfeProc>
`, key, cargo))
}

// NFSe returns an ABRASF 1.0 service invoice issued by provider 12345678000199.
func NFSe(number, total string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<CompNfse xmlns="http://www.abrasf.org.br/nfse.xsd">
  <Nfse>
    <InfNfse>
      <Numero>%[1]s</Numero>
      <CodigoVerificacao>ABCD1234</CodigoVerificacao>
      <DataEmissao>2024-04-05T09:15:00</DataEmissao>
      <Servico>
        <Valores>
          <ValorServicos>%[2]s</ValorServicos>
          <ValorIss>25.00</ValorIss>
        </Valores>
        <ItemListaServico>01.07</ItemListaServico>
        <Discriminacao>SUPORTE TECNICO</Discriminacao>
        <CodigoMunicipio>3550308</CodigoMunicipio>
      </Servico>
      <PrestadorServico>
        <IdentificacaoPrestador>
          <Cnpj>12345678000199</Cnpj>
        </IdentificacaoPrestador>
        <RazaoSocial>SOFTWARE HOUSE LTDA</RazaoSocial>
      </PrestadorServico>
      <TomadorServico>
        <IdentificacaoTomador>
          <CpfCnpj><Cnpj>99888777000166</Cnpj></CpfCnpj>
        </IdentificacaoTomador>
        <RazaoSocial>CLIENTE SERVICOS SA</RazaoSocial>
      </TomadorServico>
    </InfNfse>
  </Nfse>
</CompNfse>
`, number, total))
}

// Event returns a registered event of the NF-e family against ref.
func Event(code, ref string, seq int) []byte {
	id := fmt.Sprintf("%s%s%02d", code, ref, seq)
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<procEventoNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">
  <evento versao="1.00">
    <infEvento Id="ID%[1]s">
      <cOrgao>35</cOrgao>
      <CNPJ>12345678000199</CNPJ>
      <chNFe>%[2]s</chNFe>
      <dhEvento>2024-01-20T16:00:00-03:00</dhEvento>
      <tpEvento>%[3]s</tpEvento>
      <nSeqEvento>%[4]d</nSeqEvento>
      <detEvento versao="1.00">
        <descEvento>EVENTO</descEvento>
        <xCorrecao>CORRIGIR ENDERECO DE ENTREGA</xCorrecao>
      </detEvento>
    </infEvento>
  </evento>
  <retEvento versao="1.00">
    <infEvento>
      <cStat>135</cStat>
      <chNFe>%[2]s</chNFe>
      <tpEvento>%[3]s</tpEvento>
      <nProt>135240000000099</nProt>
    </infEvento>
  </retEvento>
</procEventoNFe>
`, id, ref, code, seq))
}

// Cancellation returns a registered cancellation event against ref.
func Cancellation(ref string) []byte {
	return Event("110111", ref, 1)
}

// Correction returns a registered correction letter against ref.
func Correction(ref string, seq int) []byte {
	return Event("110110", ref, seq)
}

// EPEC returns a registered contingency event against ref.
func EPEC(ref string) []byte {
	return Event("110140", ref, 1)
}

// Malformed returns a payload that is not well-formed XML but has a
// recognizable root.
func Malformed() []byte {
	return []byte(`<?xml version="1.0"?><nfeProc xmlns="http://www.portalfiscal.inf.br/nfe"><NFe><infNFe Id="NFe1">`)
}
