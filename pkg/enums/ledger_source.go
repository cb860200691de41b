package enums

import "fmt"

// LedgerSource tags the origin system of a credit ledger entry.
type LedgerSource string

const (
	LedgerSourceStripe LedgerSource = "stripe"
	LedgerSourceUsage  LedgerSource = "usage"
	LedgerSourceAdmin  LedgerSource = "admin"
	LedgerSourceTest   LedgerSource = "test"
)

var validLedgerSources = []LedgerSource{
	LedgerSourceStripe,
	LedgerSourceUsage,
	LedgerSourceAdmin,
	LedgerSourceTest,
}

// String implements fmt.Stringer.
func (s LedgerSource) String() string {
	return string(s)
}

// IsValid reports whether the value is known. Empty is allowed for
// legacy rows written before the source column existed.
func (s LedgerSource) IsValid() bool {
	if s == "" {
		return true
	}
	for _, candidate := range validLedgerSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerSource converts raw input into a LedgerSource.
func ParseLedgerSource(value string) (LedgerSource, error) {
	for _, candidate := range validLedgerSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger source %q", value)
}
