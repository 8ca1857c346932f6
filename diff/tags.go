package diff

import (
	"encoding/json"
	"sort"
	"strings"
)

// Tag classifies a configuration set. Tags are combined in a Tags bit set.
type Tag uint16

const (
	Irrelevant Tag = 1 << iota
	IncompletePosition
	IncompleteLabel
	Stacked
	Difference
	Complete
	Used
)

var tagNames = map[Tag]string{
	Irrelevant:         "IRRELEVANT",
	IncompletePosition: "INCOMPLETE_POSITION",
	IncompleteLabel:    "INCOMPLETE_LABEL",
	Stacked:            "STACKED",
	Difference:         "DIFFERENCE",
	Complete:           "COMPLETE",
	Used:               "USED",
}

func (t Tag) String() string {
	return tagNames[t]
}

// Tags is a set of Tag values.
type Tags uint16

func (ts Tags) Has(t Tag) bool {
	return ts&Tags(t) != 0
}

func (ts Tags) With(t Tag) Tags {
	return ts | Tags(t)
}

func (ts Tags) Without(t Tag) Tags {
	return ts &^ Tags(t)
}

// Names returns the tag names in alphabetical order.
func (ts Tags) Names() []string {
	names := []string{}
	for t, name := range tagNames {
		if ts.Has(t) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (ts Tags) String() string {
	return strings.Join(ts.Names(), ",")
}

func (ts Tags) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Names())
}
