package gstrate

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies where a rate resolution came from.
type Source string

const (
	SourceLocalCache Source = "local-cache"
	SourceRemote     Source = "remote"
	SourceUnknown    Source = "unknown"
)

// Entry is one cached HSN/SAC rate record. The JSON shape matches the
// on-disk table: {"gst_rate": 18, "description": "Wooden furniture"}.
type Entry struct {
	Rate        decimal.Decimal `json:"gst_rate"`
	Description string          `json:"description,omitempty"`
}

// Resolution is the outcome of resolving a product code. Source ==
// SourceUnknown means no rate could be determined; callers must treat
// that as a reconciliation finding, not an error.
type Resolution struct {
	Code        string
	Rate        decimal.Decimal
	Description string
	Source      Source
	ResolvedAt  time.Time
}

// Known reports whether the resolution carries a usable rate.
func (r Resolution) Known() bool {
	return r.Source != SourceUnknown
}
