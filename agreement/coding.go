package agreement

import (
	"sort"

	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/pkg/errors"
)

const (
	// NoAnnotation is shown for an annotator without an annotation at a position.
	NoAnnotation = "<no annotation>"
	// StackedAnnotation is shown for an annotator with stacked annotations.
	StackedAnnotation = "<stacked>"
)

// StudyOptions control how a coding study is built.
type StudyOptions struct {
	// Annotators restricts the study to these annotators. Empty means all
	// annotators of the diff.
	Annotators []string
	// Tagset seeds the category list with a closed vocabulary.
	Tagset            []string
	ExcludeIncomplete bool
}

// CodingItem is one row of a coding study. Values has one cell per
// annotator; a nil cell means the annotator did not annotate the position.
type CodingItem struct {
	Position diff.Position `json:"-"`
	Values   []*string     `json:"values"`
}

// CodingStudy is the position x annotator matrix handed to agreement measures.
type CodingStudy struct {
	Annotators []string     `json:"annotators"`
	Categories []string     `json:"categories"`
	Items      []CodingItem `json:"items"`
}

// ClassifiedSet is a configuration set as seen by one study.
type ClassifiedSet struct {
	Set    *diff.ConfigurationSet
	Tags   diff.Tags
	Values []*string
}

// FullCodingAgreementResult is the complete, tagged outcome of building a
// coding study for one type and feature. It is read-only once built.
type FullCodingAgreementResult struct {
	Type              string
	Feature           string
	Document          diff.DocumentRef
	ExcludeIncomplete bool
	Study             CodingStudy
	Sets              []ClassifiedSet
}

// MakeCodingStudy classifies every configuration set of the diff for the
// given type and feature and builds the coding study from the used sets. An
// empty feature compares positions only, the value being the type itself.
//
// Tags are recorded in the result, the configuration sets of the diff are not
// modified.
func MakeCodingStudy(d *diff.Result, typeName, feature string, opts StudyOptions) (*FullCodingAgreementResult, error) {
	adapter, ok := d.Registry().Adapter(typeName)
	if !ok {
		return nil, diff.ConfigurationErrorf("type %s is not part of the diff", typeName)
	}
	isLink := false
	if feature != "" {
		if _, ok := adapter.LinkFeature(feature); ok {
			isLink = true
		} else if !adapter.HasFeature(feature) {
			return nil, diff.ConfigurationErrorf("feature %s does not exist on type %s", feature, typeName)
		}
	}

	annotators, err := studyAnnotators(d, opts.Annotators)
	if err != nil {
		return nil, err
	}

	res := &FullCodingAgreementResult{
		Type:              typeName,
		Feature:           feature,
		Document:          d.Document(),
		ExcludeIncomplete: opts.ExcludeIncomplete,
		Study:             CodingStudy{Annotators: annotators},
	}

	for _, set := range d.ConfigurationSets() {
		cs, err := classify(d, set, typeName, feature, isLink, annotators, opts.ExcludeIncomplete)
		if err != nil {
			return nil, err
		}
		res.Sets = append(res.Sets, cs)
		if cs.Tags.Has(diff.Used) {
			res.Study.Items = append(res.Study.Items, CodingItem{Position: set.Position(), Values: cs.Values})
		}
	}
	res.Study.Categories = categories(opts.Tagset, res.Study.Items)
	return res, nil
}

// studyAnnotators resolves the raters of a study. A requested annotator
// without a container in the document takes part with nothing annotated.
func studyAnnotators(d *diff.Result, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return d.Annotators(), nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(requested))
	for _, id := range requested {
		if id == "" {
			return nil, diff.ConfigurationErrorf("empty annotator name in study request")
		}
		if seen[id] {
			return nil, diff.ConfigurationErrorf("annotator %s is requested twice", id)
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func classify(d *diff.Result, set *diff.ConfigurationSet, typeName, feature string, isLink bool,
	annotators []string, excludeIncomplete bool) (ClassifiedSet, error) {
	pos := set.Position()
	cs := ClassifiedSet{Set: set}

	if pos.Type() != typeName {
		cs.Tags = cs.Tags.With(diff.Irrelevant)
		return cs, nil
	}
	if isLink {
		if pos.Feature() != feature {
			cs.Tags = cs.Tags.With(diff.Irrelevant)
			return cs, nil
		}
	} else if pos.IsSubPosition() {
		if feature != "" && pos.Feature() == feature {
			return cs, diff.ConfigurationErrorf("primitive feature %s of type %s appears at a sub-position", feature, typeName)
		}
		cs.Tags = cs.Tags.With(diff.Irrelevant)
		return cs, nil
	}
	touched := false
	for _, id := range annotators {
		if set.Has(id) {
			touched = true
			break
		}
	}
	if !touched {
		cs.Tags = cs.Tags.With(diff.Irrelevant)
		return cs, nil
	}

	cs.Values = make([]*string, len(annotators))
	distinct := map[string]bool{}
	for i, id := range annotators {
		cfgs := set.Configurations(id)
		if len(cfgs) == 0 {
			cs.Tags = cs.Tags.With(diff.IncompletePosition)
			continue
		}
		if set.IsStacked(id) {
			cs.Tags = cs.Tags.With(diff.Stacked)
			cs.Values[i] = str(StackedAnnotation)
			continue
		}
		value, err := extract(d, cfgs[0], feature, isLink, typeName)
		if err != nil {
			return cs, err
		}
		if value == nil {
			cs.Tags = cs.Tags.With(diff.IncompleteLabel)
			cs.Values[i] = str("")
			continue
		}
		distinct[*value] = true
		cs.Values[i] = value
	}

	if len(distinct) > 1 {
		cs.Tags = cs.Tags.With(diff.Difference)
	}
	if cs.Tags.Has(diff.Stacked) {
		cs.Tags = cs.Tags.Without(diff.IncompleteLabel).Without(diff.IncompletePosition)
	}
	if !cs.Tags.Has(diff.IncompleteLabel) && !cs.Tags.Has(diff.IncompletePosition) && !cs.Tags.Has(diff.Stacked) {
		cs.Tags = cs.Tags.With(diff.Complete)
	}
	if (cs.Tags.Has(diff.Complete) || !excludeIncomplete) && !cs.Tags.Has(diff.Stacked) {
		cs.Tags = cs.Tags.With(diff.Used)
	}
	return cs, nil
}

func extract(d *diff.Result, cfg diff.Configuration, feature string, isLink bool, typeName string) (*string, error) {
	a, c, ok := d.Resolve(cfg)
	if !ok {
		return nil, errors.Errorf("annotation %d of annotator %s cannot be resolved", cfg.Address, cfg.Annotator)
	}
	if feature == "" {
		return str(typeName), nil
	}
	if isLink {
		adapter, _ := d.Registry().Adapter(typeName)
		label, err := adapter.LinkLabel(c, a, feature, cfg.LinkIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "extracting %s of annotation %d", feature, cfg.Address)
		}
		return &label, nil
	}
	if v, ok := a.Feature(feature); ok {
		return &v, nil
	}
	return nil, nil
}

func categories(tagset []string, items []CodingItem) []string {
	seen := map[string]bool{}
	var cats []string
	for _, t := range tagset {
		if !seen[t] {
			seen[t] = true
			cats = append(cats, t)
		}
	}
	var observed []string
	for _, item := range items {
		for _, v := range item.Values {
			if v != nil && !seen[*v] {
				seen[*v] = true
				observed = append(observed, *v)
			}
		}
	}
	sort.Strings(observed)
	return append(cats, observed...)
}

func str(s string) *string {
	return &s
}

// Label renders a study cell.
func Label(v *string) string {
	if v == nil {
		return NoAnnotation
	}
	return *v
}

// Count returns the number of sets carrying the tag.
func (r *FullCodingAgreementResult) Count(tag diff.Tag) int {
	n := 0
	for _, s := range r.Sets {
		if s.Tags.Has(tag) {
			n++
		}
	}
	return n
}

// Relevant returns the sets not tagged IRRELEVANT.
func (r *FullCodingAgreementResult) Relevant() []ClassifiedSet {
	var out []ClassifiedSet
	for _, s := range r.Sets {
		if !s.Tags.Has(diff.Irrelevant) {
			out = append(out, s)
		}
	}
	return out
}

// Tags returns the tags the study gave to the set at a position.
func (r *FullCodingAgreementResult) Tags(p diff.Position) (diff.Tags, bool) {
	for _, s := range r.Sets {
		if s.Set.Position() == p {
			return s.Tags, true
		}
	}
	return 0, false
}
