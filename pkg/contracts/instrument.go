package contracts

// SecType classifies an instrument.
type SecType string

const (
	SecTypeStock  SecType = "STK"
	SecTypeETF    SecType = "ETF"
	SecTypeOption SecType = "OPT"
	SecTypeFuture SecType = "FUT"
	SecTypeForex  SecType = "FX"
	SecTypeCrypto SecType = "CRYPTO"
	SecTypeBond   SecType = "BOND"
	SecTypeCFD    SecType = "CFD"
)

// Instrument identifies a tradeable contract. ConID is the venue's numeric
// contract identifier when known; zero means unresolved.
type Instrument struct {
	Type        SecType `json:"type"`
	Symbol      string  `json:"symbol"`
	ConID       int64   `json:"con_id,omitempty"`
	Exchange    string  `json:"exchange,omitempty"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
}

// InstrumentFilters narrows an instrument search.
type InstrumentFilters struct {
	SecType  SecType `json:"sec_type,omitempty"`
	Exchange string  `json:"exchange,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// Matches reports whether the instrument satisfies every set filter field.
func (f InstrumentFilters) Matches(inst Instrument) bool {
	if f.SecType != "" && inst.Type != f.SecType {
		return false
	}
	if f.Exchange != "" && inst.Exchange != f.Exchange {
		return false
	}
	if f.Currency != "" && inst.Currency != f.Currency {
		return false
	}
	return true
}
