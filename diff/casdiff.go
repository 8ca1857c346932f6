package diff

import (
	"sort"

	"github.com/Financial-Times/annotations-agreement/cas"
)

// Options control a diff run.
type Options struct {
	Document DocumentRef
	// Types restricts the diff to these entry types. Empty means every type
	// in the registry.
	Types []string
	// Window restricts the diff to annotations covered by the window.
	Window *cas.Window
}

// Result is the outcome of one diff run over a document.
type Result struct {
	document   DocumentRef
	annotators []string
	containers map[string]*cas.Container
	registry   *Registry
	sets       map[Position]*ConfigurationSet
	positions  []Position
}

// Diff aligns the annotations of every annotator position by position. A nil
// container counts as an annotator who made no annotations.
func Diff(registry *Registry, containers map[string]*cas.Container, opts Options) (*Result, error) {
	types := opts.Types
	if len(types) == 0 {
		types = registry.Types()
	}
	adapters := make([]Adapter, 0, len(types))
	for _, t := range types {
		a, ok := registry.Adapter(t)
		if !ok {
			return nil, ConfigurationErrorf("no diff adapter registered for type %s", t)
		}
		adapters = append(adapters, a)
	}

	res := &Result{
		document:   opts.Document,
		containers: make(map[string]*cas.Container, len(containers)),
		registry:   registry,
		sets:       map[Position]*ConfigurationSet{},
	}
	for id, c := range containers {
		res.annotators = append(res.annotators, id)
		res.containers[id] = c
	}
	sort.Strings(res.annotators)

	for _, id := range res.annotators {
		c := res.containers[id]
		if c == nil {
			continue
		}
		for _, adapter := range adapters {
			if err := res.scan(id, c, adapter, opts.Window); err != nil {
				return nil, err
			}
		}
	}

	for p, set := range res.sets {
		set.classify(res.annotators)
		res.positions = append(res.positions, p)
	}
	sort.Slice(res.positions, func(i, j int) bool { return Compare(res.positions[i], res.positions[j]) < 0 })
	return res, nil
}

func (r *Result) scan(annotator string, c *cas.Container, adapter Adapter, window *cas.Window) error {
	for _, a := range c.Select(adapter.Type(), window) {
		pos, err := adapter.Position(r.document, c, a)
		if err != nil {
			return dataErrorf(annotator, "%v", err)
		}
		stacked, err := adapter.StackedEndpoint(c, a)
		if err != nil {
			return dataErrorf(annotator, "%v", err)
		}
		r.set(pos).add(Configuration{
			Annotator:   annotator,
			Address:     a.Address,
			LinkIndex:   -1,
			Fingerprint: adapter.Fingerprint(c, a),
		}, stacked)

		subs, err := adapter.SubPositions(r.document, c, a)
		if err != nil {
			return dataErrorf(annotator, "%v", err)
		}
		for _, sub := range subs {
			r.set(sub.Position).add(Configuration{
				Annotator:   annotator,
				Address:     a.Address,
				Feature:     sub.Feature,
				LinkIndex:   sub.LinkIndex,
				Fingerprint: sub.Fingerprint,
			}, stacked)
		}
	}
	return nil
}

func (r *Result) set(p Position) *ConfigurationSet {
	s, ok := r.sets[p]
	if !ok {
		s = newConfigurationSet(p)
		r.sets[p] = s
	}
	return s
}

// Document returns the document the diff ran over.
func (r *Result) Document() DocumentRef {
	return r.document
}

// Annotators returns every annotator passed to Diff, sorted.
func (r *Result) Annotators() []string {
	return append([]string(nil), r.annotators...)
}

// Positions returns all positions in Compare order.
func (r *Result) Positions() []Position {
	return append([]Position(nil), r.positions...)
}

// ConfigurationSet returns the set at a position.
func (r *Result) ConfigurationSet(p Position) (*ConfigurationSet, bool) {
	s, ok := r.sets[p]
	return s, ok
}

// ConfigurationSets returns all sets in position order.
func (r *Result) ConfigurationSets() []*ConfigurationSet {
	sets := make([]*ConfigurationSet, len(r.positions))
	for i, p := range r.positions {
		sets[i] = r.sets[p]
	}
	return sets
}

// Registry returns the adapter table the diff ran with.
func (r *Result) Registry() *Registry {
	return r.registry
}

// Container returns the container of an annotator.
func (r *Result) Container(annotator string) (*cas.Container, bool) {
	c, ok := r.containers[annotator]
	return c, ok && c != nil
}

// Resolve returns the annotation behind a configuration.
func (r *Result) Resolve(cfg Configuration) (*cas.Annotation, *cas.Container, bool) {
	c, ok := r.Container(cfg.Annotator)
	if !ok {
		return nil, nil, false
	}
	a, ok := c.Get(cfg.Address)
	return a, c, ok
}

// IsAgreement reports whether every annotator made exactly one annotation at
// the set's position and all of them carry the same value.
func (r *Result) IsAgreement(s *ConfigurationSet) bool {
	return s.Tags().Has(Complete) && !s.Tags().Has(Difference)
}

// Stats counts sets by diff-level classification.
type Stats struct {
	Positions  int `json:"positions"`
	Agreeing   int `json:"agreeing"`
	Differing  int `json:"differing"`
	Incomplete int `json:"incomplete"`
	Stacked    int `json:"stacked"`
}

func (r *Result) Stats() Stats {
	st := Stats{Positions: len(r.positions)}
	for _, s := range r.sets {
		tags := s.Tags()
		if r.IsAgreement(s) {
			st.Agreeing++
		}
		if tags.Has(Difference) {
			st.Differing++
		}
		if tags.Has(IncompletePosition) {
			st.Incomplete++
		}
		if tags.Has(Stacked) {
			st.Stacked++
		}
	}
	return st
}
