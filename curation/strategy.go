package curation

import (
	"strings"

	"github.com/Financial-Times/annotations-agreement/diff"
)

// Strategy decides which configuration sets make it into the merge.
type Strategy interface {
	Name() string
	Accept(set *diff.ConfigurationSet) bool
}

// Strategy names accepted by StrategyByName.
const (
	AllAnnotatorsAgreeName = "all-annotators-agree"
	AgreeAmongPresentName  = "agree-among-present"
)

// AllAnnotatorsAgree accepts a set when every annotator made exactly one
// annotation there and all of them carry the same value.
type AllAnnotatorsAgree struct{}

func (AllAnnotatorsAgree) Name() string { return AllAnnotatorsAgreeName }

func (AllAnnotatorsAgree) Accept(set *diff.ConfigurationSet) bool {
	tags := set.Tags()
	return tags.Has(diff.Complete) && !tags.Has(diff.Difference) && !tags.Has(diff.Stacked)
}

// AgreeAmongPresent also accepts positions some annotators left out, as long
// as the annotators who did annotate agree and none of them stacked.
type AgreeAmongPresent struct{}

func (AgreeAmongPresent) Name() string { return AgreeAmongPresentName }

func (AgreeAmongPresent) Accept(set *diff.ConfigurationSet) bool {
	tags := set.Tags()
	return !tags.Has(diff.Difference) && !tags.Has(diff.Stacked)
}

// StrategyByName looks up a merge strategy. The empty name selects
// AllAnnotatorsAgree.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case AllAnnotatorsAgreeName, "":
		return AllAnnotatorsAgree{}, nil
	case AgreeAmongPresentName:
		return AgreeAmongPresent{}, nil
	}
	return nil, diff.ConfigurationErrorf("unknown merge strategy %q", name)
}
