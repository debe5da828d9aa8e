// Package provider defines the e-tax document provider surface the
// issuance service talks to.
package provider

import (
	"context"
	"fmt"
)

// DocState is the provider-side lifecycle of an issued document.
type DocState int

const (
	DocStatePending       DocState = 0
	DocStateIssued        DocState = 1
	DocStateForwarded     DocState = 2 // delivered to the tax authority
	DocStateForwardFailed DocState = 3
	DocStateCancelled     DocState = 4
)

// CorpState is a business-registration lookup result. State follows the
// provider's code table: 1 is an active registration, 2 suspended, 3 closed.
type CorpState struct {
	CorpNum   string `json:"corp_num"`
	State     int    `json:"state"`
	StateName string `json:"state_name"`
}

type Party struct {
	CorpNum     string `json:"corp_num"`
	TaxRegID    string `json:"tax_reg_id"`
	CorpName    string `json:"corp_name"`
	CEOName     string `json:"ceo_name"`
	Addr        string `json:"addr"`
	BizClass    string `json:"biz_class"`
	BizType     string `json:"biz_type"`
	ContactName string `json:"contact_name"`
	TEL         string `json:"tel"`
	Email       string `json:"email"`
}

type LineItem struct {
	PurchaseExpiry string `json:"purchase_expiry"`
	Name           string `json:"name"`
	Information    string `json:"information"`
	ChargeableUnit string `json:"chargeable_unit"`
	UnitPrice      string `json:"unit_price"`
	Amount         string `json:"amount"`
	Tax            string `json:"tax"`
	Description    string `json:"description"`
}

type IssueRequest struct {
	MgtKey      string
	WriteDate   string // YYYYMMDD
	PurposeType int    // 1 receipt, 2 invoice
	TaxType     int
	AmountTotal string
	TaxTotal    string
	TotalAmount string
	Invoicer    Party
	Invoicee    Party
	LineItems   []LineItem
	ForceIssue  bool
}

// Client is the document provider. Implementations return *Error for
// negative provider result codes.
type Client interface {
	// Issue registers the document under its management key and issues it
	// immediately. The returned code is the provider's positive result.
	Issue(ctx context.Context, req IssueRequest) (int, error)
	Cancel(ctx context.Context, mgtKey string) error
	GetState(ctx context.Context, mgtKey string) (DocState, error)
	GetCorpState(ctx context.Context, corpNum string) (*CorpState, error)
	ErrString(ctx context.Context, code int) (string, error)
}

// Error is a negative provider result code with its resolved message.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider error (code %d)", e.Code)
	}
	return fmt.Sprintf("provider error: %s (code %d)", e.Message, e.Code)
}
