package agreement

import (
	"encoding/json"
	"sort"

	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/pkg/errors"
)

const pairSeparator = " / "

// PairKey identifies an unordered pair of annotators.
type PairKey struct {
	First  string
	Second string
}

// NewPairKey orders the two ids so (a, b) and (b, a) give the same key.
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{First: a, Second: b}
}

func (k PairKey) String() string {
	return k.First + pairSeparator + k.Second
}

// PairwiseAgreementResult holds one summary per annotator pair.
type PairwiseAgreementResult struct {
	Type    string
	Feature string
	results map[PairKey]AgreementSummary
}

// NewPairwiseAgreementResult creates an empty result.
func NewPairwiseAgreementResult(typeName, feature string) *PairwiseAgreementResult {
	return &PairwiseAgreementResult{Type: typeName, Feature: feature, results: map[PairKey]AgreementSummary{}}
}

// Add stores the summary for a pair, merging with any summary already held.
func (p *PairwiseAgreementResult) Add(a, b string, s AgreementSummary) error {
	key := NewPairKey(a, b)
	if existing, ok := p.results[key]; ok {
		merged, err := existing.Merge(s)
		if err != nil {
			return errors.Wrapf(err, "merging agreement for %s", key)
		}
		s = merged
	}
	p.results[key] = s
	return nil
}

// Get returns the summary for a pair in either order.
func (p *PairwiseAgreementResult) Get(a, b string) (AgreementSummary, bool) {
	s, ok := p.results[NewPairKey(a, b)]
	return s, ok
}

// Pairs returns the stored pair keys in order.
func (p *PairwiseAgreementResult) Pairs() []PairKey {
	keys := make([]PairKey, 0, len(p.results))
	for k := range p.results {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].First != keys[j].First {
			return keys[i].First < keys[j].First
		}
		return keys[i].Second < keys[j].Second
	})
	return keys
}

// Raters returns every annotator appearing in a pair.
func (p *PairwiseAgreementResult) Raters() []string {
	var raters []string
	for k := range p.results {
		raters = append(raters, k.First, k.Second)
	}
	return sortedUnion(raters, nil)
}

// Merge folds another pairwise result into this one.
func (p *PairwiseAgreementResult) Merge(other *PairwiseAgreementResult) error {
	for _, k := range other.Pairs() {
		if err := p.Add(k.First, k.Second, other.results[k]); err != nil {
			return err
		}
	}
	return nil
}

func (p *PairwiseAgreementResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]AgreementSummary, len(p.results))
	for k, s := range p.results {
		out[k.String()] = s
	}
	return json.Marshal(struct {
		Type    string                      `json:"type"`
		Feature string                      `json:"feature"`
		Raters  []string                    `json:"raters"`
		Pairs   map[string]AgreementSummary `json:"pairs"`
	}{p.Type, p.Feature, p.Raters(), out})
}

// SkippedDocument records a document left out of a batch.
type SkippedDocument struct {
	Document diff.DocumentRef `json:"document"`
	Reason   string           `json:"reason"`
}

// PerDocumentAgreementResult keeps one summary per document.
type PerDocumentAgreementResult struct {
	Type      string
	Feature   string
	documents []diff.DocumentRef
	summaries map[diff.DocumentRef]AgreementSummary
	Skipped   []SkippedDocument
}

// NewPerDocumentAgreementResult creates an empty result.
func NewPerDocumentAgreementResult(typeName, feature string) *PerDocumentAgreementResult {
	return &PerDocumentAgreementResult{
		Type:      typeName,
		Feature:   feature,
		summaries: map[diff.DocumentRef]AgreementSummary{},
	}
}

// Add records the summary of a document.
func (r *PerDocumentAgreementResult) Add(doc diff.DocumentRef, s AgreementSummary) {
	if _, ok := r.summaries[doc]; !ok {
		r.documents = append(r.documents, doc)
	}
	r.summaries[doc] = s
}

// Skip records a document that could not be processed.
func (r *PerDocumentAgreementResult) Skip(doc diff.DocumentRef, err error) {
	r.Skipped = append(r.Skipped, SkippedDocument{Document: doc, Reason: err.Error()})
}

// Documents returns the processed documents in insertion order.
func (r *PerDocumentAgreementResult) Documents() []diff.DocumentRef {
	return append([]diff.DocumentRef(nil), r.documents...)
}

// Summary returns the summary of one document.
func (r *PerDocumentAgreementResult) Summary(doc diff.DocumentRef) (AgreementSummary, bool) {
	s, ok := r.summaries[doc]
	return s, ok
}

// Overall merges all document summaries. ok is false when no document was
// processed.
func (r *PerDocumentAgreementResult) Overall() (summary AgreementSummary, ok bool, err error) {
	for i, doc := range r.documents {
		if i == 0 {
			summary = r.summaries[doc]
			continue
		}
		summary, err = summary.Merge(r.summaries[doc])
		if err != nil {
			return summary, false, errors.Wrapf(err, "merging agreement of document %s", doc)
		}
	}
	return summary, len(r.documents) > 0, nil
}

func (r *PerDocumentAgreementResult) MarshalJSON() ([]byte, error) {
	type entry struct {
		Document diff.DocumentRef `json:"document"`
		Summary  AgreementSummary `json:"summary"`
	}
	entries := make([]entry, 0, len(r.documents))
	for _, doc := range r.documents {
		entries = append(entries, entry{Document: doc, Summary: r.summaries[doc]})
	}
	skipped := r.Skipped
	if skipped == nil {
		skipped = []SkippedDocument{}
	}
	return json.Marshal(struct {
		Type      string            `json:"type"`
		Feature   string            `json:"feature"`
		Documents []entry           `json:"documents"`
		Skipped   []SkippedDocument `json:"skipped"`
	}{r.Type, r.Feature, entries, skipped})
}
