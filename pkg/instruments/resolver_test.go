package instruments

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

type stubCatalog struct {
	instruments []contracts.Instrument
	searchErr   error
}

func (s *stubCatalog) SearchInstruments(_ context.Context, query string, filters contracts.InstrumentFilters, limit int) ([]contracts.Instrument, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	q := strings.ToUpper(query)
	var out []contracts.Instrument
	for _, inst := range s.instruments {
		if !filters.Matches(inst) {
			continue
		}
		if strings.Contains(strings.ToUpper(inst.Symbol), q) ||
			strings.Contains(strings.ToUpper(inst.Description), q) {
			out = append(out, inst)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubCatalog) GetContractByID(_ context.Context, conID int64) (*contracts.Instrument, error) {
	for _, inst := range s.instruments {
		if inst.ConID == conID {
			c := inst
			return &c, nil
		}
	}
	return nil, nil
}

func usCatalog() *stubCatalog {
	return &stubCatalog{instruments: []contracts.Instrument{
		{Type: contracts.SecTypeETF, Symbol: "SPY", ConID: 756733, Exchange: "ARCA", Currency: "USD", Description: "SPDR S&P 500 ETF TRUST"},
		{Type: contracts.SecTypeStock, Symbol: "AAPL", ConID: 265598, Exchange: "NASDAQ", Currency: "USD", Description: "APPLE INC"},
		{Type: contracts.SecTypeStock, Symbol: "APP", ConID: 460655038, Exchange: "NASDAQ", Currency: "USD", Description: "APPLOVIN CORP"},
		{Type: contracts.SecTypeStock, Symbol: "RIO", ConID: 3930820, Exchange: "NYSE", Currency: "USD", Description: "RIO TINTO PLC ADR"},
		{Type: contracts.SecTypeStock, Symbol: "RIO", ConID: 92620186, Exchange: "LSE", Currency: "GBP", Description: "RIO TINTO PLC"},
	}}
}

func TestMatchScore(t *testing.T) {
	cases := []struct {
		query, symbol, name string
		want                float64
	}{
		{"SPY", "SPY", "SPDR S&P 500 ETF TRUST", 1.0},
		{"spy", "SPY", "", 1.0},
		{"GOOG", "GOOGL", "ALPHABET INC", 0.9},
		{"APPL", "AAPL", "APPLE INC", 0.85},
		{"APP", "AAPL", "APPLE INC", 0.85},
		{"MSFT", "AAPL", "APPLE INC", 0},
	}
	for _, c := range cases {
		got := MatchScore(c.query, c.symbol, c.name)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("MatchScore(%q, %q, %q) = %v, want %v", c.query, c.symbol, c.name, got, c.want)
		}
	}
}

func TestMatchScoreFuzzyFallback(t *testing.T) {
	// No exact, no prefix, no name: pure sequence ratio.
	got := MatchScore("APPL", "AAPL", "")
	want := 0.75 // 2*3 matching chars / 8 total
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("fuzzy score = %v, want %v", got, want)
	}
}

func TestSearchRanksByScore(t *testing.T) {
	r := NewResolver(usCatalog())
	cands, err := r.Search(context.Background(), "APP", contracts.InstrumentFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].Instrument.Symbol != "APP" || cands[0].Score != 1.0 {
		t.Errorf("best candidate = %s (%v), want APP (1.0)", cands[0].Instrument.Symbol, cands[0].Score)
	}
	if cands[1].Instrument.Symbol != "AAPL" {
		t.Errorf("runner-up = %s, want AAPL", cands[1].Instrument.Symbol)
	}
}

func TestSearchHonorsFilters(t *testing.T) {
	r := NewResolver(usCatalog())
	cands, err := r.Search(context.Background(), "RIO", contracts.InstrumentFilters{Currency: "GBP"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Instrument.Exchange != "LSE" {
		t.Fatalf("GBP filter returned %+v, want single LSE listing", cands)
	}
}

func TestSearchPropagatesCatalogError(t *testing.T) {
	r := NewResolver(&stubCatalog{searchErr: errors.New("venue down")})
	if _, err := r.Search(context.Background(), "SPY", contracts.InstrumentFilters{}, 0); err == nil {
		t.Fatal("expected error from catalog")
	}
}

func TestResolveByConID(t *testing.T) {
	r := NewResolver(usCatalog())
	res, err := r.Resolve(context.Background(), ResolveRequest{ConID: 756733})
	if err != nil {
		t.Fatal(err)
	}
	if res.Instrument.Symbol != "SPY" || res.Method != MethodExplicitConID {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveByConIDNotFound(t *testing.T) {
	r := NewResolver(usCatalog())
	_, err := r.Resolve(context.Background(), ResolveRequest{ConID: 999})
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("want ResolutionError, got %v", err)
	}
	if rerr.Error() != "contract with conId 999 not found" {
		t.Errorf("message = %q", rerr.Error())
	}
}

func TestResolveExactUnique(t *testing.T) {
	r := NewResolver(usCatalog())

	res, err := r.Resolve(context.Background(), ResolveRequest{Symbol: "AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodInferred || res.Ambiguous {
		t.Fatalf("got %+v, want unambiguous inferred match", res)
	}

	res, err = r.Resolve(context.Background(), ResolveRequest{
		Symbol:  "AAPL",
		Filters: contracts.InstrumentFilters{SecType: contracts.SecTypeStock},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodExactMatch {
		t.Fatalf("method = %s, want %s", res.Method, MethodExactMatch)
	}
}

func TestResolveAmbiguousExact(t *testing.T) {
	r := NewResolver(usCatalog())
	res, err := r.Resolve(context.Background(), ResolveRequest{Symbol: "RIO"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ambiguous || res.Method != MethodBestMatchAmbiguous {
		t.Fatalf("got %+v, want ambiguous best match", res)
	}
	if len(res.Alternatives) != 1 {
		t.Fatalf("alternatives = %d, want 1", len(res.Alternatives))
	}

	// An exchange filter removes the ambiguity.
	res, err = r.Resolve(context.Background(), ResolveRequest{
		Symbol:  "RIO",
		Filters: contracts.InstrumentFilters{Exchange: "LSE"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ambiguous || res.Instrument.ConID != 92620186 {
		t.Fatalf("got %+v, want the LSE listing alone", res)
	}
}

func TestResolveSingleHighConfidence(t *testing.T) {
	// One near-identical long identifier clears the confidence floor
	// without being an exact match.
	cat := &stubCatalog{instruments: []contracts.Instrument{
		{Type: contracts.SecTypeBond, Symbol: "US037833AK68CORP2026", ConID: 1111, Currency: "USD"},
	}}
	r := NewResolver(cat)
	res, err := r.Resolve(context.Background(), ResolveRequest{Symbol: "S037833AK68CORP2026"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != MethodHighConfidence {
		t.Fatalf("method = %s, want %s", res.Method, MethodHighConfidence)
	}
}

func TestResolveRefusesLowConfidence(t *testing.T) {
	r := NewResolver(usCatalog())
	_, err := r.Resolve(context.Background(), ResolveRequest{Symbol: "APPLE"})
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("want ResolutionError, got %v", err)
	}
	if len(rerr.Candidates) == 0 {
		t.Fatal("error should carry the scored candidates")
	}
}

func TestResolveNoMatches(t *testing.T) {
	r := NewResolver(usCatalog())
	_, err := r.Resolve(context.Background(), ResolveRequest{Symbol: "ZZZZ"})
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("want ResolutionError, got %v", err)
	}
	if !strings.Contains(rerr.Error(), "no instruments found") {
		t.Errorf("message = %q", rerr.Error())
	}
}
