package gateway

import (
	"strings"

	"github.com/mktdigital/marketplace-backend/config"
)

// ConfigurationError reports a required business configuration value missing
// at payload-build time. The builder fails fast instead of emitting an empty
// tag the gateway would reject downstream.
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return "gateway configuration: missing " + e.Key
}

// Transaction is the normalized payment attempt data embedded in the
// transaction document.
type Transaction struct {
	Reference string // merchant-generated, round-tripped by the gateway
	Amount    string // fixed two-decimal string, e.g. "100.00"
	Currency  string // 3-letter code
}

// Card carries the raw card data. It only ever flows into the encrypted
// payload; callers must never log it.
type Card struct {
	Holder   string
	Number   string
	ExpMonth string // "01".."12"
	ExpYear  string // two digits
	CVV      string
}

// Billing is the buyer contact block the gateway requires for 3DS risk checks.
type Billing struct {
	Phone string
	Email string
	IP    string
}

// PayloadBuilder renders the gateway's transaction and envelope documents.
// The gateway performs strict schema validation, so tag names and order are
// fixed; values are copied verbatim.
type PayloadBuilder struct {
	cfg config.ProviderConfig
}

func NewPayloadBuilder(cfg config.ProviderConfig) *PayloadBuilder {
	return &PayloadBuilder{cfg: cfg}
}

// BuildTransactionXML assembles the plaintext transaction document that gets
// encrypted and wrapped into the envelope.
func (b *PayloadBuilder) BuildTransactionXML(tx Transaction, card Card, bill Billing) (string, error) {
	required := []struct{ key, val string }{
		{"PROVIDER_COMPANY_ID", b.cfg.CompanyID},
		{"PROVIDER_BRANCH_ID", b.cfg.BranchID},
		{"PROVIDER_COUNTRY", b.cfg.Country},
		{"PROVIDER_USER", b.cfg.User},
		{"PROVIDER_PASSWORD", b.cfg.Password},
		{"PROVIDER_COBRO_CODE", b.cfg.CobroCode},
	}
	for _, r := range required {
		if r.val == "" {
			return "", &ConfigurationError{Key: r.key}
		}
	}

	merchant, err := b.MerchantFor(card.Number)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString("<VMI>")
	sb.WriteString("<VERSION>2.0</VERSION>")
	sb.WriteString("<BUSINESS>")
	writeTag(&sb, "ID_COMPANY", b.cfg.CompanyID)
	writeTag(&sb, "ID_BRANCH", b.cfg.BranchID)
	writeTag(&sb, "COUNTRY", b.cfg.Country)
	writeTag(&sb, "USER", b.cfg.User)
	writeTag(&sb, "PWD", b.cfg.Password)
	sb.WriteString("</BUSINESS>")
	sb.WriteString("<TRANSACTION>")
	writeTag(&sb, "ID_MERCHANT", merchant)
	writeTag(&sb, "REFERENCE", tx.Reference)
	writeTag(&sb, "AMOUNT", tx.Amount)
	writeTag(&sb, "CURRENCY", tx.Currency)
	writeTag(&sb, "COBRO", b.cfg.CobroCode)
	sb.WriteString("<CARD>")
	writeTag(&sb, "NAME", card.Holder)
	writeTag(&sb, "NUMBER", card.Number)
	writeTag(&sb, "EXP_MONTH", card.ExpMonth)
	writeTag(&sb, "EXP_YEAR", card.ExpYear)
	writeTag(&sb, "CVV", card.CVV)
	sb.WriteString("</CARD>")
	sb.WriteString("<CONTACT>")
	writeTag(&sb, "PHONE", bill.Phone)
	writeTag(&sb, "EMAIL", bill.Email)
	writeTag(&sb, "IP", bill.IP)
	sb.WriteString("</CONTACT>")
	sb.WriteString("</TRANSACTION>")
	sb.WriteString("</VMI>")
	return sb.String(), nil
}

// BuildEnvelopeXML wraps the already-encrypted transaction payload with the
// static business identifier into the outer document the gateway expects in
// the hidden "xml" form field.
func (b *PayloadBuilder) BuildEnvelopeXML(encrypted string) (string, error) {
	if b.cfg.EnvelopeID == "" {
		return "", &ConfigurationError{Key: "PROVIDER_ENVELOPE_ID"}
	}
	if encrypted == "" {
		return "", &ConfigurationError{Key: "encrypted payload"}
	}
	var sb strings.Builder
	sb.WriteString("<pgs>")
	writeTag(&sb, "data0", b.cfg.EnvelopeID)
	writeTag(&sb, "data", encrypted)
	sb.WriteString("</pgs>")
	return sb.String(), nil
}

// MerchantFor selects the gateway merchant id for a card number from the
// configured prefix routing table; the first matching prefix wins,
// DefaultMerchantID backs the table. An empty result is a configuration
// failure, never an empty tag.
func (b *PayloadBuilder) MerchantFor(cardNumber string) (string, error) {
	for _, route := range b.cfg.Merchants {
		if strings.HasPrefix(cardNumber, route.Prefix) {
			return route.MerchantID, nil
		}
	}
	if b.cfg.DefaultMerchantID != "" {
		return b.cfg.DefaultMerchantID, nil
	}
	return "", &ConfigurationError{Key: "PROVIDER_MERCHANT_DEFAULT"}
}

// writeTag emits <name>value</name> with the value verbatim. The gateway
// rejects entity-escaped digits, so no re-encoding happens here.
func writeTag(sb *strings.Builder, name, value string) {
	sb.WriteString("<")
	sb.WriteString(name)
	sb.WriteString(">")
	sb.WriteString(value)
	sb.WriteString("</")
	sb.WriteString(name)
	sb.WriteString(">")
}
