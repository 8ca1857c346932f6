package agreement

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// AgreementSummary condenses one or more coding study results for the same
// type and feature. Summaries of single documents are merged into project
// wide ones with Merge.
type AgreementSummary struct {
	Type              string
	Feature           string
	Measure           string
	ExcludeIncomplete bool

	// Agreements holds one score per merged study; NaN marks an undefined score.
	Agreements []float64
	Raters     []string
	Categories []string

	TotalSetCount            int
	IrrelevantSetCount       int
	RelevantSetCount         int
	CompleteSetCount         int
	IncompleteSetsByPosition int
	IncompleteSetsByLabel    int
	PluralitySetCount        int
	DifferenceSetCount       int
	UsedSetCount             int

	// ItemCounts counts per rater the used items the rater annotated.
	ItemCounts map[string]int
	// NonNullContentCounts counts per rater the used items with a non-empty label.
	NonNullContentCounts map[string]int
	// AllNull is true when no used item carries a non-empty label.
	AllNull bool
}

// Summarize computes the measure over the study and records the set counts.
func Summarize(r *FullCodingAgreementResult, m Measure) AgreementSummary {
	s := AgreementSummary{
		Type:                     r.Type,
		Feature:                  r.Feature,
		Measure:                  m.Name(),
		ExcludeIncomplete:        r.ExcludeIncomplete,
		Agreements:               []float64{m.Calculate(r.Study)},
		Raters:                   append([]string(nil), r.Study.Annotators...),
		Categories:               sortedUnion(nil, r.Study.Categories),
		TotalSetCount:            len(r.Sets),
		IrrelevantSetCount:       r.Count(diff.Irrelevant),
		CompleteSetCount:         r.Count(diff.Complete),
		IncompleteSetsByPosition: r.Count(diff.IncompletePosition),
		IncompleteSetsByLabel:    r.Count(diff.IncompleteLabel),
		PluralitySetCount:        r.Count(diff.Stacked),
		DifferenceSetCount:       r.Count(diff.Difference),
		UsedSetCount:             r.Count(diff.Used),
		ItemCounts:               map[string]int{},
		NonNullContentCounts:     map[string]int{},
		AllNull:                  true,
	}
	s.RelevantSetCount = s.TotalSetCount - s.IrrelevantSetCount
	for _, rater := range r.Study.Annotators {
		s.ItemCounts[rater] = 0
		s.NonNullContentCounts[rater] = 0
	}
	for _, item := range r.Study.Items {
		for i, v := range item.Values {
			if v == nil {
				continue
			}
			rater := r.Study.Annotators[i]
			s.ItemCounts[rater]++
			if *v != "" {
				s.NonNullContentCounts[rater]++
				s.AllNull = false
			}
		}
	}
	return s
}

// Merge combines two summaries of the same type, feature and measure. The
// numeric effect is associative and commutative: counts are summed, raters
// and categories are unioned and agreement scores are concatenated.
func (s AgreementSummary) Merge(other AgreementSummary) (AgreementSummary, error) {
	if s.Type != other.Type || s.Feature != other.Feature {
		return s, errors.Errorf("cannot merge agreement for %s/%s with %s/%s", s.Type, s.Feature, other.Type, other.Feature)
	}
	if s.Measure != other.Measure {
		return s, errors.Errorf("cannot merge %s agreement with %s agreement", s.Measure, other.Measure)
	}
	if s.ExcludeIncomplete != other.ExcludeIncomplete {
		return s, errors.New("cannot merge summaries built with different incomplete-set policies")
	}
	m := AgreementSummary{
		Type:                     s.Type,
		Feature:                  s.Feature,
		Measure:                  s.Measure,
		ExcludeIncomplete:        s.ExcludeIncomplete,
		Agreements:               append(append([]float64(nil), s.Agreements...), other.Agreements...),
		Raters:                   sortedUnion(s.Raters, other.Raters),
		Categories:               sortedUnion(s.Categories, other.Categories),
		TotalSetCount:            s.TotalSetCount + other.TotalSetCount,
		IrrelevantSetCount:       s.IrrelevantSetCount + other.IrrelevantSetCount,
		RelevantSetCount:         s.RelevantSetCount + other.RelevantSetCount,
		CompleteSetCount:         s.CompleteSetCount + other.CompleteSetCount,
		IncompleteSetsByPosition: s.IncompleteSetsByPosition + other.IncompleteSetsByPosition,
		IncompleteSetsByLabel:    s.IncompleteSetsByLabel + other.IncompleteSetsByLabel,
		PluralitySetCount:        s.PluralitySetCount + other.PluralitySetCount,
		DifferenceSetCount:       s.DifferenceSetCount + other.DifferenceSetCount,
		UsedSetCount:             s.UsedSetCount + other.UsedSetCount,
		ItemCounts:               sumCounts(s.ItemCounts, other.ItemCounts),
		NonNullContentCounts:     sumCounts(s.NonNullContentCounts, other.NonNullContentCounts),
		AllNull:                  s.AllNull && other.AllNull,
	}
	return m, nil
}

// Agreement averages the recorded scores, skipping NaN. It is NaN when no
// score is defined.
func (s AgreementSummary) Agreement() float64 {
	var defined []float64
	for _, a := range s.Agreements {
		if !math.IsNaN(a) {
			defined = append(defined, a)
		}
	}
	if len(defined) == 0 {
		return math.NaN()
	}
	return stat.Mean(defined, nil)
}

// MarshalJSON renders NaN scores as null.
func (s AgreementSummary) MarshalJSON() ([]byte, error) {
	scores := make([]*float64, len(s.Agreements))
	for i, a := range s.Agreements {
		scores[i] = finite(a)
	}
	return json.Marshal(struct {
		Type                     string         `json:"type"`
		Feature                  string         `json:"feature"`
		Measure                  string         `json:"measure"`
		ExcludeIncomplete        bool           `json:"excludeIncomplete"`
		Agreement                *float64       `json:"agreement"`
		Agreements               []*float64     `json:"agreements"`
		Raters                   []string       `json:"raters"`
		Categories               []string       `json:"categories"`
		TotalSetCount            int            `json:"totalSetCount"`
		IrrelevantSetCount       int            `json:"irrelevantSetCount"`
		RelevantSetCount         int            `json:"relevantSetCount"`
		CompleteSetCount         int            `json:"completeSetCount"`
		IncompleteSetsByPosition int            `json:"incompleteSetsByPosition"`
		IncompleteSetsByLabel    int            `json:"incompleteSetsByLabel"`
		PluralitySetCount        int            `json:"pluralitySetCount"`
		DifferenceSetCount       int            `json:"differenceSetCount"`
		UsedSetCount             int            `json:"usedSetCount"`
		ItemCounts               map[string]int `json:"itemCounts"`
		NonNullContentCounts     map[string]int `json:"nonNullContentCounts"`
		AllNull                  bool           `json:"allNull"`
	}{
		s.Type, s.Feature, s.Measure, s.ExcludeIncomplete, finite(s.Agreement()), scores,
		s.Raters, s.Categories, s.TotalSetCount, s.IrrelevantSetCount, s.RelevantSetCount,
		s.CompleteSetCount, s.IncompleteSetsByPosition, s.IncompleteSetsByLabel, s.PluralitySetCount,
		s.DifferenceSetCount, s.UsedSetCount, s.ItemCounts, s.NonNullContentCounts, s.AllNull,
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func sortedUnion(a, b []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}

func sumCounts(a, b map[string]int) map[string]int {
	out := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		out[k] += v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}
