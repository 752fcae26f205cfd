// Package instruments turns user-supplied identifiers into fully
// qualified tradable contracts. The resolver ranks venue search results
// with fuzzy scoring and refuses to guess when a symbol stays ambiguous:
// an order gate must never route to an instrument the operator did not
// mean.
package instruments

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

const (
	// DefaultSearchLimit caps candidate lists when the caller does not say.
	DefaultSearchLimit = 10

	// HighConfidenceScore is the floor for accepting a single fuzzy match.
	HighConfidenceScore = 0.95

	maxAlternatives = 4
)

// Resolution methods, recorded for audit context.
const (
	MethodExplicitConID      = "explicit_con_id"
	MethodExactMatch         = "exact_match"
	MethodInferred           = "inferred"
	MethodHighConfidence     = "single_high_confidence"
	MethodBestMatchAmbiguous = "best_match_ambiguous"
)

// Catalog is the venue-side lookup the resolver ranks over.
type Catalog interface {
	SearchInstruments(ctx context.Context, query string, filters contracts.InstrumentFilters, limit int) ([]contracts.Instrument, error)
	GetContractByID(ctx context.Context, conID int64) (*contracts.Instrument, error)
}

// Candidate is one scored search result.
type Candidate struct {
	Instrument contracts.Instrument `json:"instrument"`
	Score      float64              `json:"score"`
}

// ResolveRequest names the instrument to resolve. A non-zero ConID
// bypasses search entirely.
type ResolveRequest struct {
	Symbol  string                      `json:"symbol"`
	Filters contracts.InstrumentFilters `json:"filters"`
	ConID   int64                       `json:"con_id,omitempty"`
}

// Resolution is a successful lookup. Ambiguous marks a best-effort pick
// among several exact symbol matches; Alternatives carry the runners-up.
type Resolution struct {
	Instrument   contracts.Instrument `json:"instrument"`
	Ambiguous    bool                 `json:"ambiguous"`
	Alternatives []Candidate          `json:"alternatives,omitempty"`
	Method       string               `json:"method"`
}

// ResolutionError reports a lookup that found nothing trustworthy.
// Candidates carry the scored near-misses for the caller to present.
type ResolutionError struct {
	Query      string
	ConID      int64
	Candidates []Candidate
}

func (e *ResolutionError) Error() string {
	if e.ConID != 0 {
		return fmt.Sprintf("contract with conId %d not found", e.ConID)
	}
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no instruments found matching %q", e.Query)
	}
	return fmt.Sprintf("ambiguous symbol %q: %d matches found", e.Query, len(e.Candidates))
}

// Resolver ranks catalog output and applies the resolution ladder.
type Resolver struct {
	catalog Catalog
}

func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Search returns candidates ranked by match score, best first. A zero
// or negative limit means DefaultSearchLimit.
func (r *Resolver) Search(ctx context.Context, query string, filters contracts.InstrumentFilters, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	found, err := r.catalog.SearchInstruments(ctx, query, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("instrument search: %w", err)
	}
	cands := make([]Candidate, 0, len(found))
	for _, inst := range found {
		cands = append(cands, Candidate{
			Instrument: inst,
			Score:      MatchScore(query, inst.Symbol, inst.Description),
		})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	if len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}

// Resolve walks the ladder: explicit conId, unique exact symbol match,
// several exact matches (best wins, flagged ambiguous), a single fuzzy
// candidate above the confidence floor. Anything weaker is an error
// carrying the candidates.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	if req.ConID != 0 {
		inst, err := r.catalog.GetContractByID(ctx, req.ConID)
		if err != nil {
			return Resolution{}, fmt.Errorf("contract lookup: %w", err)
		}
		if inst == nil {
			return Resolution{}, &ResolutionError{Query: req.Symbol, ConID: req.ConID}
		}
		return Resolution{Instrument: *inst, Method: MethodExplicitConID}, nil
	}

	cands, err := r.Search(ctx, req.Symbol, req.Filters, DefaultSearchLimit)
	if err != nil {
		return Resolution{}, err
	}
	if len(cands) == 0 {
		return Resolution{}, &ResolutionError{Query: req.Symbol}
	}

	exact := exactMatches(req.Symbol, cands)
	if len(exact) == 1 {
		method := MethodInferred
		if req.Filters.SecType != "" {
			method = MethodExactMatch
		}
		return Resolution{Instrument: exact[0].Instrument, Method: method}, nil
	}
	if len(exact) > 1 {
		alt := exact[1:]
		if len(alt) > maxAlternatives {
			alt = alt[:maxAlternatives]
		}
		return Resolution{
			Instrument:   exact[0].Instrument,
			Ambiguous:    true,
			Alternatives: alt,
			Method:       MethodBestMatchAmbiguous,
		}, nil
	}
	if len(cands) == 1 && cands[0].Score >= HighConfidenceScore {
		return Resolution{Instrument: cands[0].Instrument, Method: MethodHighConfidence}, nil
	}
	return Resolution{}, &ResolutionError{Query: req.Symbol, Candidates: cands}
}

func exactMatches(query string, cands []Candidate) []Candidate {
	want := strings.ToUpper(strings.TrimSpace(query))
	var out []Candidate
	for _, c := range cands {
		if strings.ToUpper(c.Instrument.Symbol) == want {
			out = append(out, c)
		}
	}
	return out
}
