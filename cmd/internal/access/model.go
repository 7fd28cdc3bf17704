package access

import (
	"bytes"
	"time"
)

// UsageVersion is the current usage ledger format version.
const UsageVersion = 2

// AdRequirement is the monetization gate attached to a token.
type AdRequirement string

const (
	AdRequirementNone     AdRequirement = "none"
	AdRequirementFlexible AdRequirement = "flexible"
	AdRequirementRewarded AdRequirement = "rewarded"
)

// Valid reports whether r is a known requirement. Empty is treated as none.
func (r AdRequirement) Valid() bool {
	switch r {
	case "", AdRequirementNone, AdRequirementFlexible, AdRequirementRewarded:
		return true
	default:
		return false
	}
}

// Record mirrors the <tokenId>.token2 file.
type Record struct {
	TokenID        string        `json:"tokenId"`
	IssuedAt       time.Time     `json:"issuedAt"`
	MaxClientCount int           `json:"maxClientCount"`
	MaxTraffic     int64         `json:"maxTraffic"`
	ExpirationTime *time.Time    `json:"expirationTime,omitempty"`
	AdRequirement  AdRequirement `json:"adRequirement"`
	Secret         []byte        `json:"secret"`
	Name           string        `json:"name,omitempty"`
}

// Expired reports whether the record has an expiration time at or before now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpirationTime != nil && !r.ExpirationTime.After(now)
}

// Usage mirrors the <tokenId>.usage file.
type Usage struct {
	SentTraffic     int64     `json:"sentTraffic"`
	ReceivedTraffic int64     `json:"receivedTraffic"`
	Version         int       `json:"version"`
	CreatedTime     time.Time `json:"createdTime"`
	LastUsedTime    time.Time `json:"lastUsedTime"`
}

// TotalTraffic is sent + received.
func (u Usage) TotalTraffic() int64 { return u.SentTraffic + u.ReceivedTraffic }

// Data is the composite every decision consumes.
type Data struct {
	Record Record
	Usage  Usage
}

// TrafficOverflow reports whether the token has a traffic cap and exceeded it.
func (d Data) TrafficOverflow() bool {
	return d.Record.MaxTraffic != 0 && d.Usage.TotalTraffic() > d.Record.MaxTraffic
}

// clone returns a copy that shares no mutable memory with d.
func (d Data) clone() Data {
	out := d
	out.Record.Secret = bytes.Clone(d.Record.Secret)
	if d.Record.ExpirationTime != nil {
		t := *d.Record.ExpirationTime
		out.Record.ExpirationTime = &t
	}
	return out
}

// CreateParams are the inputs of Store.Create.
type CreateParams struct {
	// MaxClientCount caps distinct devices; 0 means unlimited.
	MaxClientCount int
	// MaxTraffic caps sent+received bytes; 0 means unlimited.
	MaxTraffic int64

	Name           string
	ExpirationTime *time.Time
	AdRequirement  AdRequirement
}

func (p CreateParams) validate() error {
	if p.MaxClientCount < 0 || p.MaxTraffic < 0 || !p.AdRequirement.Valid() {
		return ErrInvalidInput
	}
	return nil
}
