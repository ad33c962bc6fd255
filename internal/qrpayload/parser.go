package qrpayload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// docDateLayouts covers the date formats the authority has been seen
// emitting; DocDt is dd/mm/yyyy in current payloads.
var docDateLayouts = []string{"02/01/2006", "2006-01-02"}

// Parse decodes an authority QR string of the form
// header.payload.signature (base64url segments, JWT shape). The header
// must carry an alg field and the signature segment must decode; the
// signature value itself is verified by the issuing authority upstream.
// All failures return *MalformedPayloadErr.
func Parse(raw string) (Summary, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Summary{}, &MalformedPayloadErr{Reason: "empty payload"}
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Summary{}, &MalformedPayloadErr{Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return Summary{}, &MalformedPayloadErr{Reason: "undecodable header", Err: err}
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(header, &hdr); err != nil || hdr.Alg == "" {
		return Summary{}, &MalformedPayloadErr{Reason: "header missing alg", Err: err}
	}

	if parts[2] == "" {
		return Summary{}, &MalformedPayloadErr{Reason: "empty signature segment"}
	}
	if _, err := decodeSegment(parts[2]); err != nil {
		return Summary{}, &MalformedPayloadErr{Reason: "undecodable signature segment", Err: err}
	}

	body, err := decodeSegment(parts[1])
	if err != nil {
		return Summary{}, &MalformedPayloadErr{Reason: "undecodable payload segment", Err: err}
	}

	data, err := extractData(body)
	if err != nil {
		return Summary{}, err
	}
	return buildSummary(data)
}

// decodeSegment accepts base64url with or without padding, matching
// what scanners actually hand over.
func decodeSegment(seg string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "=")); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(seg)
}

// extractData pulls the data object out of the payload JSON. The
// authority sometimes embeds it as a JSON string rather than an object.
func extractData(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var outer map[string]any
	if err := dec.Decode(&outer); err != nil {
		return nil, &MalformedPayloadErr{Reason: "payload is not JSON", Err: err}
	}

	rawData, ok := outer["data"]
	if !ok {
		return nil, &MalformedPayloadErr{Reason: "payload missing data field"}
	}
	switch v := rawData.(type) {
	case map[string]any:
		return v, nil
	case string:
		inner := json.NewDecoder(strings.NewReader(v))
		inner.UseNumber()
		var data map[string]any
		if err := inner.Decode(&data); err != nil {
			return nil, &MalformedPayloadErr{Reason: "embedded data is not JSON", Err: err}
		}
		return data, nil
	default:
		return nil, &MalformedPayloadErr{Reason: "data field has unexpected type"}
	}
}

func buildSummary(data map[string]any) (Summary, error) {
	s := Summary{
		SellerGSTIN: stringField(data, "SellerGstin"),
		BuyerGSTIN:  stringField(data, "BuyerGstin"),
		DocNo:       stringField(data, "DocNo"),
		DocType:     stringField(data, "DocTyp"),
		DocDateRaw:  stringField(data, "DocDt"),
		MainHSNCode: stringField(data, "MainHsnCode"),
		IRN:         stringField(data, "Irn"),
		IRNDate:     stringField(data, "IrnDt"),
	}

	if s.DocNo == "" {
		return Summary{}, &MalformedPayloadErr{Reason: "data missing DocNo"}
	}
	if s.SellerGSTIN == "" {
		return Summary{}, &MalformedPayloadErr{Reason: "data missing SellerGstin"}
	}

	total, err := decimalField(data, "TotInvVal")
	if err != nil {
		return Summary{}, &MalformedPayloadErr{Reason: "invalid TotInvVal", Err: err}
	}
	if !total.Valid {
		return Summary{}, &MalformedPayloadErr{Reason: "data missing TotInvVal"}
	}
	s.TotalInvoiceValue = total.Decimal

	for key, dst := range map[string]*decimal.NullDecimal{
		"TaxableVal": &s.TaxableValue,
		"CgstVal":    &s.CGST,
		"SgstVal":    &s.SGST,
		"IgstVal":    &s.IGST,
	} {
		val, err := decimalField(data, key)
		if err != nil {
			return Summary{}, &MalformedPayloadErr{Reason: "invalid " + key, Err: err}
		}
		*dst = val
	}

	if n, err := intField(data, "ItemCnt"); err == nil {
		s.ItemCount = n
	}

	for _, layout := range docDateLayouts {
		if t, err := time.Parse(layout, s.DocDateRaw); err == nil {
			s.DocDate = t
			break
		}
	}
	return s, nil
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// decimalField parses amounts with fixed-point semantics: json.Number
// text goes straight into a decimal, never through a float64.
func decimalField(data map[string]any, key string) (decimal.NullDecimal, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return decimal.NullDecimal{}, nil
	}
	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
		if text == "" {
			return decimal.NullDecimal{}, nil
		}
	default:
		return decimal.NullDecimal{}, fmt.Errorf("%s has unexpected type %T", key, v)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%s: %w", key, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func intField(data map[string]any, key string) (int, error) {
	v, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("%s missing", key)
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%s is not a number", key)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
