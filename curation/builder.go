// Package curation derives the initial curation document of a document from
// the finished annotations of its annotators.
package curation

import (
	"sort"
	"time"

	"github.com/Financial-Times/annotations-agreement/cas"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
)

// MergeStats reports what the builder did to the template. Kept is the
// number of annotations in the merge.
type MergeStats struct {
	Template     string `json:"template"`
	Strategy     string `json:"strategy"`
	Kept         int    `json:"kept"`
	Rejected     int    `json:"rejected"`
	Dangling     int    `json:"dangling"`
	LinksRemoved int    `json:"linksRemoved"`
}

// Builder turns a diff into a merge container.
type Builder struct {
	strategy Strategy
	timer    metrics.Timer
}

// NewBuilder creates a builder. A nil strategy means AllAnnotatorsAgree.
func NewBuilder(strategy Strategy, registry metrics.Registry) *Builder {
	if strategy == nil {
		strategy = AllAnnotatorsAgree{}
	}
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &Builder{strategy: strategy, timer: metrics.GetOrRegisterTimer("curation.merge", registry)}
}

// Strategy returns the merge strategy in use.
func (b *Builder) Strategy() Strategy {
	return b.strategy
}

type slot struct {
	addr    cas.Address
	feature string
	index   int
}

// Build copies the template annotator's container and removes everything the
// annotators did not agree on: annotations of a diffed type whose position
// is not accepted, link slots whose sub-position is not accepted, and then
// relations and links left pointing at removed annotations. Types outside
// the diff are kept as they are.
func (b *Builder) Build(d *diff.Result, template string) (*cas.Container, MergeStats, error) {
	start := time.Now()
	defer b.timer.UpdateSince(start)

	stats := MergeStats{Template: template, Strategy: b.strategy.Name()}
	source, ok := d.Container(template)
	if !ok {
		return nil, stats, errors.Errorf("template annotator %s has no annotations in the diff", template)
	}
	merged := source.Copy()

	var rejected []cas.Address
	var slots []slot
	for _, set := range d.ConfigurationSets() {
		accepted := b.strategy.Accept(set)
		for _, cfg := range set.Configurations(template) {
			switch {
			case accepted:
			case cfg.LinkIndex < 0:
				rejected = append(rejected, cfg.Address)
			default:
				slots = append(slots, slot{addr: cfg.Address, feature: cfg.Feature, index: cfg.LinkIndex})
			}
		}
	}

	for _, addr := range rejected {
		if merged.Remove(addr) {
			stats.Rejected++
		}
	}
	// Highest index first so earlier indexes stay valid.
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].addr != slots[j].addr {
			return slots[i].addr < slots[j].addr
		}
		if slots[i].feature != slots[j].feature {
			return slots[i].feature < slots[j].feature
		}
		return slots[i].index > slots[j].index
	})
	for _, s := range slots {
		if merged.RemoveLink(s.addr, s.feature, s.index) {
			stats.LinksRemoved++
		}
	}

	dangling, links := removeDangling(merged)
	stats.Dangling = dangling
	stats.LinksRemoved += links
	stats.Kept = merged.Len()
	return merged, stats, nil
}

// removeDangling drops annotations whose references no longer resolve and
// link slots whose target is gone, until nothing changes.
func removeDangling(c *cas.Container) (annotations, links int) {
	for {
		changed := false
		for _, a := range c.All() {
			if hasDanglingRef(c, a) {
				c.Remove(a.Address)
				annotations++
				changed = true
			}
		}
		for _, a := range c.All() {
			for _, feature := range linkFeatures(a) {
				for i := len(a.Links[feature]) - 1; i >= 0; i-- {
					if _, ok := c.Get(a.Links[feature][i].Target); !ok {
						c.RemoveLink(a.Address, feature, i)
						links++
						changed = true
					}
				}
			}
		}
		if !changed {
			return annotations, links
		}
	}
}

func hasDanglingRef(c *cas.Container, a *cas.Annotation) bool {
	for _, ref := range a.Refs {
		if _, ok := c.Get(ref); !ok {
			return true
		}
	}
	return false
}

func linkFeatures(a *cas.Annotation) []string {
	names := make([]string, 0, len(a.Links))
	for name := range a.Links {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
