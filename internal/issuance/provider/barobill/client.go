// Package barobill implements the provider client against the BaroService
// ASMX endpoints. The API is SOAP 1.1; envelopes are built with
// encoding/xml and posted over plain net/http.
package barobill

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/baroworks/taxbill/internal/config"
	"github.com/baroworks/taxbill/internal/issuance/provider"
	"go.uber.org/zap"
)

const (
	productionHost = "https://ws.baroservice.com"
	testHost       = "https://testws.baroservice.com"

	soapNS = "http://ws.baroservice.com/"
)

type Client struct {
	httpClient *http.Client
	log        *zap.Logger

	certKey      string
	corpNum      string
	invoiceURL   string // TI.asmx
	corpStateURL string // CORPSTATE.asmx
}

func New(cfg config.ProviderConfig, log *zap.Logger) *Client {
	host := productionHost
	if cfg.UseTestServer {
		host = testHost
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		log:          log.Named("provider.barobill"),
		certKey:      cfg.CertKey,
		corpNum:      cfg.CorpNum,
		invoiceURL:   host + "/TI.asmx",
		corpStateURL: host + "/CORPSTATE.asmx",
	}
}

type envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	BodyNS  string   `xml:"xmlns,attr"`
	Body    body     `xml:"soap:Body"`
}

type body struct {
	Payload any
}

type registTaxInvoiceEX struct {
	XMLName     xml.Name    `xml:"RegistTaxInvoiceEX"`
	CERTKEY     string      `xml:"CERTKEY"`
	CorpNum     string      `xml:"CorpNum"`
	Invoice     taxInvoice  `xml:"Invoice"`
	IssueTiming int         `xml:"IssueTiming"`
}

type taxInvoice struct {
	IssueDirection           int          `xml:"IssueDirection"`
	TaxInvoiceType           int          `xml:"TaxInvoiceType"`
	TaxType                  int          `xml:"TaxType"`
	TaxCalcType              int          `xml:"TaxCalcType"`
	PurposeType              int          `xml:"PurposeType"`
	WriteDate                string       `xml:"WriteDate"`
	AmountTotal              string       `xml:"AmountTotal"`
	TaxTotal                 string       `xml:"TaxTotal"`
	TotalAmount              string       `xml:"TotalAmount"`
	InvoicerParty            invoiceParty `xml:"InvoicerParty"`
	InvoiceeParty            invoiceParty `xml:"InvoiceeParty"`
	TaxInvoiceTradeLineItems struct {
		Items []tradeLineItem `xml:"TaxInvoiceTradeLineItem"`
	} `xml:"TaxInvoiceTradeLineItems"`
}

type invoiceParty struct {
	MgtNum      string `xml:"MgtNum"`
	CorpNum     string `xml:"CorpNum"`
	TaxRegID    string `xml:"TaxRegID"`
	CorpName    string `xml:"CorpName"`
	CEOName     string `xml:"CEOName"`
	Addr        string `xml:"Addr"`
	BizClass    string `xml:"BizClass"`
	BizType     string `xml:"BizType"`
	ContactName string `xml:"ContactName"`
	TEL         string `xml:"TEL"`
	Email       string `xml:"Email"`
}

type tradeLineItem struct {
	PurchaseExpiry string `xml:"PurchaseExpiry"`
	Name           string `xml:"Name"`
	Information    string `xml:"Information"`
	ChargeableUnit string `xml:"ChargeableUnit"`
	UnitPrice      string `xml:"UnitPrice"`
	Amount         string `xml:"Amount"`
	Tax            string `xml:"Tax"`
	Description    string `xml:"Description"`
}

type issueTaxInvoiceEx struct {
	XMLName    xml.Name `xml:"IssueTaxInvoiceEx"`
	CERTKEY    string   `xml:"CERTKEY"`
	CorpNum    string   `xml:"CorpNum"`
	MgtKey     string   `xml:"MgtKey"`
	SendSMS    bool     `xml:"SendSMS"`
	SMSMessage string   `xml:"SMSMessage"`
	ForceIssue bool     `xml:"ForceIssue"`
}

type deleteTaxInvoice struct {
	XMLName xml.Name `xml:"DeleteTaxInvoice"`
	CERTKEY string   `xml:"CERTKEY"`
	CorpNum string   `xml:"CorpNum"`
	MgtKey  string   `xml:"MgtKey"`
}

type getTaxInvoiceStatesEX struct {
	XMLName    xml.Name `xml:"GetTaxInvoiceStatesEX"`
	CERTKEY    string   `xml:"CERTKEY"`
	CorpNum    string   `xml:"CorpNum"`
	MgtKeyList struct {
		Strings []string `xml:"string"`
	} `xml:"MgtKeyList"`
}

type getCorpStateEx struct {
	XMLName      xml.Name `xml:"GetCorpStateEx"`
	CERTKEY      string   `xml:"CERTKEY"`
	CorpNum      string   `xml:"CorpNum"`
	CheckCorpNum string   `xml:"CheckCorpNum"`
}

type getErrString struct {
	XMLName xml.Name `xml:"GetErrString"`
	CERTKEY string   `xml:"CERTKEY"`
	ErrCode int      `xml:"ErrCode"`
}

type stringResult struct {
	Value string `xml:",chardata"`
}

// callInt posts an operation whose result element is a bare integer.
func (c *Client) callInt(ctx context.Context, endpoint, action string, payload any) (int, error) {
	var result stringResult
	if err := c.call(ctx, endpoint, action, payload, &result); err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(strings.TrimSpace(result.Value))
	if err != nil {
		return 0, fmt.Errorf("parse %s result %q: %w", action, result.Value, err)
	}
	return value, nil
}

type invoiceStateResult struct {
	States []struct {
		MgtKey        string `xml:"MgtKey"`
		BarobillState int    `xml:"BarobillState"`
	} `xml:"TaxInvoiceStateEX"`
}

type corpStateResult struct {
	CorpNum   string `xml:"CorpNum"`
	State     int    `xml:"State"`
	StateName string `xml:"StateName"`
}

// call posts one SOAP 1.1 operation and decodes the <action>Result element
// into out.
func (c *Client) call(ctx context.Context, endpoint, action string, payload, out any) error {
	env := envelope{
		SoapNS: "http://schemas.xmlsoap.org/soap/envelope/",
		BodyNS: soapNS,
		Body:   body{Payload: payload},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapNS+action)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %d", action, resp.StatusCode)
	}
	return decodeResult(raw, action+"Result", out)
}

// decodeResult walks the response document to the named result element.
// The ASMX envelope nests it under Body/<action>Response.
func decodeResult(raw []byte, name string, out any) error {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return fmt.Errorf("missing %s element", name)
		}
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == name {
			return decoder.DecodeElement(out, &start)
		}
	}
}

// providerErr resolves a negative result code to a *provider.Error. ErrString
// resolution is best effort; the code alone is still actionable.
func (c *Client) providerErr(ctx context.Context, code int) error {
	message, err := c.ErrString(ctx, code)
	if err != nil {
		c.log.Warn("resolve provider error string", zap.Int("code", code), zap.Error(err))
		message = ""
	}
	return &provider.Error{Code: code, Message: message}
}

func (c *Client) Issue(ctx context.Context, req provider.IssueRequest) (int, error) {
	invoice := taxInvoice{
		IssueDirection: 1,
		TaxInvoiceType: 1,
		TaxType:        req.TaxType,
		TaxCalcType:    1,
		PurposeType:    req.PurposeType,
		WriteDate:      req.WriteDate,
		AmountTotal:    req.AmountTotal,
		TaxTotal:       req.TaxTotal,
		TotalAmount:    req.TotalAmount,
		InvoicerParty:  toParty(req.Invoicer),
		InvoiceeParty:  toParty(req.Invoicee),
	}
	invoice.InvoicerParty.MgtNum = req.MgtKey
	for _, item := range req.LineItems {
		invoice.TaxInvoiceTradeLineItems.Items = append(invoice.TaxInvoiceTradeLineItems.Items, tradeLineItem{
			PurchaseExpiry: item.PurchaseExpiry,
			Name:           item.Name,
			Information:    item.Information,
			ChargeableUnit: item.ChargeableUnit,
			UnitPrice:      item.UnitPrice,
			Amount:         item.Amount,
			Tax:            item.Tax,
			Description:    item.Description,
		})
	}

	registered, err := c.callInt(ctx, c.invoiceURL, "RegistTaxInvoiceEX", registTaxInvoiceEX{
		CERTKEY:     c.certKey,
		CorpNum:     c.corpNum,
		Invoice:     invoice,
		IssueTiming: 1,
	})
	if err != nil {
		return 0, err
	}
	if registered < 0 {
		return 0, c.providerErr(ctx, registered)
	}

	issued, err := c.callInt(ctx, c.invoiceURL, "IssueTaxInvoiceEx", issueTaxInvoiceEx{
		CERTKEY:    c.certKey,
		CorpNum:    c.corpNum,
		MgtKey:     req.MgtKey,
		ForceIssue: req.ForceIssue,
	})
	if err != nil {
		return 0, err
	}
	if issued < 0 {
		return 0, c.providerErr(ctx, issued)
	}
	return issued, nil
}

func (c *Client) Cancel(ctx context.Context, mgtKey string) error {
	result, err := c.callInt(ctx, c.invoiceURL, "DeleteTaxInvoice", deleteTaxInvoice{
		CERTKEY: c.certKey,
		CorpNum: c.corpNum,
		MgtKey:  mgtKey,
	})
	if err != nil {
		return err
	}
	if result < 0 {
		return c.providerErr(ctx, result)
	}
	return nil
}

func (c *Client) GetState(ctx context.Context, mgtKey string) (provider.DocState, error) {
	req := getTaxInvoiceStatesEX{CERTKEY: c.certKey, CorpNum: c.corpNum}
	req.MgtKeyList.Strings = []string{mgtKey}

	var result invoiceStateResult
	if err := c.call(ctx, c.invoiceURL, "GetTaxInvoiceStatesEX", req, &result); err != nil {
		return 0, err
	}
	if len(result.States) == 0 {
		return 0, fmt.Errorf("empty state response for %s", mgtKey)
	}
	state := result.States[0]
	if state.MgtKey == "" && state.BarobillState < 0 {
		return 0, c.providerErr(ctx, state.BarobillState)
	}
	return provider.DocState(state.BarobillState), nil
}

func (c *Client) GetCorpState(ctx context.Context, corpNum string) (*provider.CorpState, error) {
	var result corpStateResult
	err := c.call(ctx, c.corpStateURL, "GetCorpStateEx", getCorpStateEx{
		CERTKEY:      c.certKey,
		CorpNum:      c.corpNum,
		CheckCorpNum: corpNum,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.State < 0 {
		return nil, c.providerErr(ctx, result.State)
	}
	return &provider.CorpState{
		CorpNum:   result.CorpNum,
		State:     result.State,
		StateName: result.StateName,
	}, nil
}

func (c *Client) ErrString(ctx context.Context, code int) (string, error) {
	var result stringResult
	err := c.call(ctx, c.invoiceURL, "GetErrString", getErrString{
		CERTKEY: c.certKey,
		ErrCode: code,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Value, nil
}

func toParty(p provider.Party) invoiceParty {
	return invoiceParty{
		CorpNum:     p.CorpNum,
		TaxRegID:    p.TaxRegID,
		CorpName:    p.CorpName,
		CEOName:     p.CEOName,
		Addr:        p.Addr,
		BizClass:    p.BizClass,
		BizType:     p.BizType,
		ContactName: p.ContactName,
		TEL:         p.TEL,
		Email:       p.Email,
	}
}
