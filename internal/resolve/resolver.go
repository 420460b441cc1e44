package resolve

import (
	"github.com/zerochurn/success-sync/internal/model"
)

// Record is the source-system view of an account, as seen by one sync run.
type Record struct {
	// ExternalID is the source's own identifier for the record, matched
	// against the external ID the index was built for.
	ExternalID string
	Name       string
	Domain     string
}

// Index holds the per-run lookup maps over all known accounts. Built
// once per orchestrator run and discarded at run end.
type Index struct {
	externalID   func(*model.Account) string
	byExternalID map[string]*model.Account
	byName       map[string]*model.Account
	byDomain     map[string]*model.Account
}

// BuildIndex constructs an Index over accounts. externalID selects which
// of the account's external IDs this run matches on (CRM, payments, or
// analytics). First occurrence wins on key collisions.
func BuildIndex(accounts []*model.Account, externalID func(*model.Account) string) *Index {
	idx := &Index{
		externalID:   externalID,
		byExternalID: make(map[string]*model.Account, len(accounts)),
		byName:       make(map[string]*model.Account, len(accounts)),
		byDomain:     make(map[string]*model.Account, len(accounts)),
	}
	for _, a := range accounts {
		idx.Add(a)
	}
	return idx
}

// Add registers an account in the index. Used at build time and for
// accounts created mid-run, so later records in the same run resolve to
// them instead of creating duplicates.
func (idx *Index) Add(a *model.Account) {
	if id := idx.externalID(a); id != "" {
		if _, ok := idx.byExternalID[id]; !ok {
			idx.byExternalID[id] = a
		}
	}
	if k := nameKey(a.Name); k != "" {
		if _, ok := idx.byName[k]; !ok {
			idx.byName[k] = a
		}
	}
	if d := NormalizeDomain(a.Domain); d != "" {
		if _, ok := idx.byDomain[d]; !ok {
			idx.byDomain[d] = a
		}
	}
}

// Strategy is one pure matching function, tried in order.
type Strategy struct {
	Name  string
	Match func(Record, *Index) *model.Account
}

// Strategies is the fixed-priority cascade. External ID is authoritative
// because it cannot collide; name is the weakest signal and sits last of
// the direct lookups. The final strategy treats the record's own name as
// a domain, for CRM companies whose name is literally a bare domain
// string.
var Strategies = []Strategy{
	{Name: "external_id", Match: func(r Record, idx *Index) *model.Account {
		if r.ExternalID == "" {
			return nil
		}
		return idx.byExternalID[r.ExternalID]
	}},
	{Name: "name", Match: func(r Record, idx *Index) *model.Account {
		k := nameKey(r.Name)
		if k == "" {
			return nil
		}
		return idx.byName[k]
	}},
	{Name: "domain", Match: func(r Record, idx *Index) *model.Account {
		d := NormalizeDomain(r.Domain)
		if d == "" {
			return nil
		}
		return idx.byDomain[d]
	}},
	{Name: "name_as_domain", Match: func(r Record, idx *Index) *model.Account {
		d := NormalizeDomain(r.Name)
		if d == "" {
			return nil
		}
		return idx.byDomain[d]
	}},
}

// Resolve tries each strategy in priority order and returns the first
// hit plus the winning strategy's name. Returns (nil, "") when no
// strategy matches.
func Resolve(rec Record, idx *Index) (*model.Account, string) {
	for _, s := range Strategies {
		if a := s.Match(rec, idx); a != nil {
			return a, s.Name
		}
	}
	return nil, ""
}
