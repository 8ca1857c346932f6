// Package schema reads the annotation layer definitions of a project.
package schema

import (
	"os"

	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Layer kinds.
const (
	SpanLayer     = "span"
	RelationLayer = "relation"
)

// Schema is the set of layers and tagsets of a project.
type Schema struct {
	Layers  []Layer             `yaml:"layers"`
	Tagsets map[string][]string `yaml:"tagsets"`
}

// Layer describes one annotation type.
type Layer struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	// Source and Target name the reference features of a relation layer.
	Source string `yaml:"source,omitempty"`
	Target string `yaml:"target,omitempty"`
	// AttachType is the span layer relation endpoints belong to.
	AttachType    string        `yaml:"attachType,omitempty"`
	Discriminator string        `yaml:"discriminator,omitempty"`
	Features      []Feature     `yaml:"features,omitempty"`
	Links         []LinkFeature `yaml:"links,omitempty"`
}

// Feature is a primitive feature of a layer.
type Feature struct {
	Name   string `yaml:"name"`
	Tagset string `yaml:"tagset,omitempty"`
}

// LinkFeature is a multi-valued link feature of a layer.
type LinkFeature struct {
	Name     string `yaml:"name"`
	Behavior string `yaml:"behavior,omitempty"`
	Tagset   string `yaml:"tagset,omitempty"`
}

// Load reads and validates a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading schema %s", path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s", path)
	}
	return s, nil
}

// Parse decodes and validates a schema.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decoding schema")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the layer definitions for consistency. Problems are
// reported as diff.ConfigurationError.
func (s *Schema) Validate() error {
	kinds := map[string]string{}
	for _, l := range s.Layers {
		if l.Name == "" {
			return diff.ConfigurationErrorf("layer without a name")
		}
		if _, dup := kinds[l.Name]; dup {
			return diff.ConfigurationErrorf("layer %s is declared twice", l.Name)
		}
		kinds[l.Name] = l.Kind
	}
	for _, l := range s.Layers {
		switch l.Kind {
		case SpanLayer:
			if l.Source != "" || l.Target != "" || l.AttachType != "" {
				return diff.ConfigurationErrorf("span layer %s declares relation endpoints", l.Name)
			}
		case RelationLayer:
			if l.Source == "" || l.Target == "" {
				return diff.ConfigurationErrorf("relation layer %s needs source and target features", l.Name)
			}
			if l.AttachType != "" && kinds[l.AttachType] != SpanLayer {
				return diff.ConfigurationErrorf("relation layer %s attaches to %s which is not a span layer", l.Name, l.AttachType)
			}
		default:
			return diff.ConfigurationErrorf("layer %s has unknown kind %q", l.Name, l.Kind)
		}
		names := map[string]bool{}
		for _, f := range l.Features {
			if names[f.Name] {
				return diff.ConfigurationErrorf("feature %s of layer %s is declared twice", f.Name, l.Name)
			}
			names[f.Name] = true
			if err := s.checkTagset(l.Name, f.Name, f.Tagset); err != nil {
				return err
			}
		}
		for _, lf := range l.Links {
			if names[lf.Name] {
				return diff.ConfigurationErrorf("feature %s of layer %s is declared both primitive and link", lf.Name, l.Name)
			}
			names[lf.Name] = true
			if _, err := diff.ParseLinkCompareBehavior(lf.Behavior); err != nil {
				return diff.ConfigurationErrorf("link feature %s of layer %s: %v", lf.Name, l.Name, err)
			}
			if err := s.checkTagset(l.Name, lf.Name, lf.Tagset); err != nil {
				return err
			}
		}
		if l.Discriminator != "" && !l.hasPrimitive(l.Discriminator) {
			return diff.ConfigurationErrorf("discriminator %s of layer %s is not a primitive feature", l.Discriminator, l.Name)
		}
	}
	return nil
}

func (s *Schema) checkTagset(layer, feature, tagset string) error {
	if tagset == "" {
		return nil
	}
	if _, ok := s.Tagsets[tagset]; !ok {
		return diff.ConfigurationErrorf("feature %s of layer %s uses unknown tagset %s", feature, layer, tagset)
	}
	return nil
}

func (l Layer) hasPrimitive(name string) bool {
	for _, f := range l.Features {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Layer looks up a layer by name.
func (s *Schema) Layer(name string) (Layer, bool) {
	for _, l := range s.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// Feature looks up a primitive or link feature of a layer. The tagset name is
// empty when the feature has an open vocabulary.
func (s *Schema) Feature(layer, name string) (tagset string, ok bool) {
	l, found := s.Layer(layer)
	if !found {
		return "", false
	}
	for _, f := range l.Features {
		if f.Name == name {
			return f.Tagset, true
		}
	}
	for _, lf := range l.Links {
		if lf.Name == name {
			return lf.Tagset, true
		}
	}
	return "", false
}

// Registry builds the diff adapters of every layer.
func (s *Schema) Registry() (*diff.Registry, error) {
	adapters := make([]diff.Adapter, 0, len(s.Layers))
	for _, l := range s.Layers {
		features := make([]string, 0, len(l.Features))
		for _, f := range l.Features {
			features = append(features, f.Name)
		}
		links := make([]diff.LinkFeature, 0, len(l.Links))
		for _, lf := range l.Links {
			behavior, err := diff.ParseLinkCompareBehavior(lf.Behavior)
			if err != nil {
				return nil, err
			}
			links = append(links, diff.LinkFeature{Name: lf.Name, Behavior: behavior})
		}
		switch l.Kind {
		case SpanLayer:
			a := diff.NewSpanAdapter(l.Name, features, links...)
			if l.Discriminator != "" {
				a = a.WithDiscriminator(l.Discriminator)
			}
			adapters = append(adapters, a)
		case RelationLayer:
			a := diff.NewRelationAdapter(l.Name, l.Source, l.Target, features, links...).WithAttachType(l.AttachType)
			if l.Discriminator != "" {
				a = a.WithDiscriminator(l.Discriminator)
			}
			adapters = append(adapters, a)
		default:
			return nil, diff.ConfigurationErrorf("layer %s has unknown kind %q", l.Name, l.Kind)
		}
	}
	return diff.NewRegistry(adapters...)
}
