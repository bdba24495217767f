package gateway

import (
	"encoding/xml"
	"strings"
)

// MalformedResponseError means the callback document could not be parsed as
// well-formed XML at all. Missing fields are not an error; the gateway schema
// has many optional fields across versions.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return "gateway response: malformed document: " + e.Err.Error()
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// callbackDoc mirrors the gateway's CENTEROFPAYMENTS response document.
// Every field is optional; absent tags decode to empty strings.
type callbackDoc struct {
	XMLName   xml.Name `xml:"CENTEROFPAYMENTS"`
	Reference string   `xml:"reference"`
	Response  string   `xml:"response"`
	Folio     string   `xml:"foliocpagos"`
	Auth      string   `xml:"auth"`
	CDResp    string   `xml:"cd_response"`
	CDError   string   `xml:"cd_error"`
	NBError   string   `xml:"nb_error"`
	Time      string   `xml:"time"`
	Date      string   `xml:"date"`
	CCType    string   `xml:"cc_type"`
	CCName    string   `xml:"cc_name"`
	CCNumber  string   `xml:"cc_number"`
	Amount    string   `xml:"amount"`
	Voucher   string   `xml:"voucher"`
	ThreeDS   struct {
		Reference string `xml:"reference3d"`
		XID       string `xml:"xid"`
		ECI       string `xml:"eci"`
		CAVV      string `xml:"cavv"`
		Status    string `xml:"status3d"`
		CDResp    string `xml:"cd_response3d"`
	} `xml:"threeDS"`
}

// NormalizedCallback is the flattened, defensive view of one gateway callback.
type NormalizedCallback struct {
	ThreeDSReference     string
	ThreeDSTransactionID string
	ECI                  string
	CAVV                 string
	ThreeDSStatus        string
	ThreeDSResponseCode  string

	Reference    string
	Response     string
	Folio        string
	AuthCode     string
	ResponseCode string
	ErrorCode    string
	ErrorMessage string
	Amount       string
	Voucher      string

	CardType       string
	CardholderName string
	MaskedPAN      string

	Date string
	Time string

	Raw string
}

// ParseCallback decodes the gateway response document. Absent fields come
// back as empty strings; only a document that is not well-formed XML fails.
func ParseCallback(raw string) (*NormalizedCallback, error) {
	var doc callbackDoc
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	return &NormalizedCallback{
		ThreeDSReference:     doc.ThreeDS.Reference,
		ThreeDSTransactionID: doc.ThreeDS.XID,
		ECI:                  doc.ThreeDS.ECI,
		CAVV:                 doc.ThreeDS.CAVV,
		ThreeDSStatus:        doc.ThreeDS.Status,
		ThreeDSResponseCode:  doc.ThreeDS.CDResp,

		Reference:    doc.Reference,
		Response:     doc.Response,
		Folio:        doc.Folio,
		AuthCode:     doc.Auth,
		ResponseCode: doc.CDResp,
		ErrorCode:    doc.CDError,
		ErrorMessage: doc.NBError,
		Amount:       doc.Amount,
		Voucher:      doc.Voucher,

		CardType:       doc.CCType,
		CardholderName: doc.CCName,
		MaskedPAN:      doc.CCNumber,

		Date: doc.Date,
		Time: doc.Time,

		Raw: raw,
	}, nil
}

// References returns the candidate transaction references carried by the
// callback, in matching priority order: the 3DS echo, the round-tripped
// merchant reference, then the gateway folio. Empty and duplicate values are
// dropped.
func (c *NormalizedCallback) References() []string {
	var out []string
	seen := make(map[string]bool)
	for _, ref := range []string{c.ThreeDSReference, c.Reference, c.Folio} {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// IsApproved reports whether the callback carries an approved outcome. The
// gateway mixes languages across environments, so both the English and the
// Spanish literal are accepted; the dual check is intentional.
func IsApproved(c *NormalizedCallback) bool {
	return strings.EqualFold(c.Response, "approved") || strings.EqualFold(c.Response, "aprobada")
}

// Status derives the normalized outcome: approved, error, or pending for
// anything the gateway left ambiguous. Unmapped statuses stay pending so
// reconciliation records them without order effects.
func (c *NormalizedCallback) Status() string {
	if IsApproved(c) {
		return "approved"
	}
	switch strings.ToLower(c.Response) {
	case "error", "denegada", "rechazada", "denied":
		return "error"
	}
	if c.ErrorCode != "" {
		return "error"
	}
	return "pending"
}
