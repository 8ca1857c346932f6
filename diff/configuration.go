package diff

import (
	"sort"

	"github.com/Financial-Times/annotations-agreement/cas"
)

// Configuration is one annotator's annotation at a position.
type Configuration struct {
	Annotator string      `json:"annotator"`
	Address   cas.Address `json:"address"`
	// Feature and LinkIndex identify the link slot for sub-positions.
	// LinkIndex is -1 at primary positions.
	Feature     string `json:"feature,omitempty"`
	LinkIndex   int    `json:"linkIndex"`
	Fingerprint string `json:"-"`
}

// ConfigurationSet groups the configurations of all annotators sharing one
// position. It is read-only once Diff has returned.
type ConfigurationSet struct {
	position        Position
	configs         map[string][]Configuration
	stackedEndpoint map[string]bool
	tags            Tags
}

func newConfigurationSet(p Position) *ConfigurationSet {
	return &ConfigurationSet{
		position:        p,
		configs:         map[string][]Configuration{},
		stackedEndpoint: map[string]bool{},
	}
}

func (s *ConfigurationSet) add(cfg Configuration, stackedEndpoint bool) {
	s.configs[cfg.Annotator] = append(s.configs[cfg.Annotator], cfg)
	if stackedEndpoint {
		s.stackedEndpoint[cfg.Annotator] = true
	}
}

func (s *ConfigurationSet) Position() Position {
	return s.position
}

// Annotators returns the sorted ids of the annotators present in this set.
func (s *ConfigurationSet) Annotators() []string {
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether the annotator contributed to this set.
func (s *ConfigurationSet) Has(annotator string) bool {
	return len(s.configs[annotator]) > 0
}

// Configurations returns the configurations of one annotator.
func (s *ConfigurationSet) Configurations(annotator string) []Configuration {
	return append([]Configuration(nil), s.configs[annotator]...)
}

// All returns every configuration ordered by annotator.
func (s *ConfigurationSet) All() []Configuration {
	var all []Configuration
	for _, id := range s.Annotators() {
		all = append(all, s.configs[id]...)
	}
	return all
}

// IsStacked reports whether the annotator has more than one annotation at
// this position, or an annotation with a stacked relation endpoint.
func (s *ConfigurationSet) IsStacked(annotator string) bool {
	return len(s.configs[annotator]) > 1 || s.stackedEndpoint[annotator]
}

// DistinctValues returns the sorted distinct fingerprints in this set.
func (s *ConfigurationSet) DistinctValues() []string {
	seen := map[string]bool{}
	var values []string
	for _, cfgs := range s.configs {
		for _, c := range cfgs {
			if !seen[c.Fingerprint] {
				seen[c.Fingerprint] = true
				values = append(values, c.Fingerprint)
			}
		}
	}
	sort.Strings(values)
	return values
}

// Tags returns the diff-level classification of the set.
func (s *ConfigurationSet) Tags() Tags {
	return s.tags
}

// classify tags the set against the full annotator list.
func (s *ConfigurationSet) classify(annotators []string) {
	var tags Tags
	for _, id := range annotators {
		if !s.Has(id) {
			tags = tags.With(IncompletePosition)
		}
		if s.IsStacked(id) {
			tags = tags.With(Stacked)
		}
	}
	if len(s.DistinctValues()) > 1 {
		tags = tags.With(Difference)
	}
	if tags.Has(Stacked) {
		tags = tags.Without(IncompletePosition).Without(IncompleteLabel)
	}
	if !tags.Has(IncompletePosition) && !tags.Has(IncompleteLabel) && !tags.Has(Stacked) {
		tags = tags.With(Complete)
	}
	s.tags = tags
}
