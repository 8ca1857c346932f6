package diff

import (
	"fmt"
	"strings"
)

// Kind distinguishes the position variants.
type Kind int

const (
	SpanKind Kind = iota
	RelationKind
)

func (k Kind) String() string {
	switch k {
	case SpanKind:
		return "span"
	case RelationKind:
		return "relation"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// LinkCompareBehavior decides which part of a link slot identifies the
// position and which part is the label being compared.
type LinkCompareBehavior int

const (
	noLinkBehavior LinkCompareBehavior = iota
	// LinkTargetAsLabel positions slots by role; the target is the label.
	LinkTargetAsLabel
	// LinkRoleAsLabel positions slots by target offsets; the role is the label.
	LinkRoleAsLabel
	// LinkRoleAndTargetAsLabel positions slots by role and target offsets;
	// role and target together form the label.
	LinkRoleAndTargetAsLabel
)

var linkBehaviorNames = map[LinkCompareBehavior]string{
	LinkTargetAsLabel:        "target-as-label",
	LinkRoleAsLabel:          "role-as-label",
	LinkRoleAndTargetAsLabel: "role-and-target-as-label",
}

func (b LinkCompareBehavior) String() string {
	if name, ok := linkBehaviorNames[b]; ok {
		return name
	}
	return ""
}

// ParseLinkCompareBehavior maps a configuration name to a behavior. The empty
// string selects LinkTargetAsLabel.
func ParseLinkCompareBehavior(name string) (LinkCompareBehavior, error) {
	if name == "" {
		return LinkTargetAsLabel, nil
	}
	for b, n := range linkBehaviorNames {
		if n == name {
			return b, nil
		}
	}
	return noLinkBehavior, ConfigurationErrorf("unknown link compare behavior %q", name)
}

// DocumentRef identifies the document a diff runs over.
type DocumentRef struct {
	CollectionID string `json:"collectionId,omitempty"`
	DocumentID   string `json:"documentId"`
}

func (d DocumentRef) String() string {
	if d.CollectionID == "" {
		return d.DocumentID
	}
	return d.CollectionID + "/" + d.DocumentID
}

// SubPosition narrows a position to one slot of a link feature. The zero
// value denotes a primary position.
type SubPosition struct {
	Feature         string              `json:"feature,omitempty"`
	Role            string              `json:"role,omitempty"`
	LinkTargetBegin int                 `json:"linkTargetBegin,omitempty"`
	LinkTargetEnd   int                 `json:"linkTargetEnd,omitempty"`
	Behavior        LinkCompareBehavior `json:"-"`
}

// PositionBase holds the fields shared by all position variants.
type PositionBase struct {
	Document      DocumentRef `json:"document"`
	TypeName      string      `json:"type"`
	Sub           SubPosition `json:"sub"`
	Discriminator string      `json:"discriminator,omitempty"`
}

func (p PositionBase) Type() string { return p.TypeName }

// Feature returns the link feature of a sub-position, or "" for a primary one.
func (p PositionBase) Feature() string { return p.Sub.Feature }

func (p PositionBase) IsSubPosition() bool { return p.Sub.Feature != "" }

func (p PositionBase) Base() PositionBase { return p }

// Position identifies "the same annotation slot" across annotators. Values
// are comparable, so == is structural equality and positions key maps.
type Position interface {
	Kind() Kind
	Type() string
	Feature() string
	IsSubPosition() bool
	Base() PositionBase
	Describe() string
	position()
}

// SpanPosition locates a span annotation.
type SpanPosition struct {
	PositionBase
	Begin int `json:"begin"`
	End   int `json:"end"`
}

func (SpanPosition) Kind() Kind { return SpanKind }
func (SpanPosition) position()  {}

func (p SpanPosition) Describe() string {
	return fmt.Sprintf("%d-%d", p.Begin, p.End) + describeBase(p.PositionBase)
}

// RelationPosition locates a relation by the offsets of its endpoints.
type RelationPosition struct {
	PositionBase
	SourceBegin int `json:"sourceBegin"`
	SourceEnd   int `json:"sourceEnd"`
	TargetBegin int `json:"targetBegin"`
	TargetEnd   int `json:"targetEnd"`
}

func (RelationPosition) Kind() Kind { return RelationKind }
func (RelationPosition) position()  {}

func (p RelationPosition) Describe() string {
	return fmt.Sprintf("%d-%d -> %d-%d", p.SourceBegin, p.SourceEnd, p.TargetBegin, p.TargetEnd) +
		describeBase(p.PositionBase)
}

func describeBase(b PositionBase) string {
	var sb strings.Builder
	if b.Discriminator != "" {
		fmt.Fprintf(&sb, " [%s]", b.Discriminator)
	}
	if b.IsSubPosition() {
		fmt.Fprintf(&sb, " %s", b.Sub.Feature)
		switch b.Sub.Behavior {
		case LinkTargetAsLabel:
			fmt.Fprintf(&sb, " role=%s", b.Sub.Role)
		case LinkRoleAsLabel:
			fmt.Fprintf(&sb, " target=%d-%d", b.Sub.LinkTargetBegin, b.Sub.LinkTargetEnd)
		case LinkRoleAndTargetAsLabel:
			fmt.Fprintf(&sb, " role=%s target=%d-%d", b.Sub.Role, b.Sub.LinkTargetBegin, b.Sub.LinkTargetEnd)
		}
	}
	return sb.String()
}

func offsets(p Position) []int {
	switch v := p.(type) {
	case SpanPosition:
		return []int{v.Begin, v.End}
	case RelationPosition:
		return []int{v.SourceBegin, v.SourceEnd, v.TargetBegin, v.TargetEnd}
	}
	return nil
}

// Compare is a total order on positions consistent with ==. Character
// offsets come first, then type, kind, sub-position, discriminator and
// document.
//
// Positions carry no token offsets, so there is no secondary token order.
func Compare(a, b Position) int {
	// (begin, end) of a span and (source begin, source end) of a relation
	// lead, the target offsets of relations only break ties within the same
	// type and kind.
	oa, ob := offsets(a), offsets(b)
	for i := 0; i < 2; i++ {
		if c := compareInt(oa[i], ob[i]); c != 0 {
			return c
		}
	}
	if c := strings.Compare(a.Type(), b.Type()); c != 0 {
		return c
	}
	if c := compareInt(int(a.Kind()), int(b.Kind())); c != 0 {
		return c
	}
	for i := 2; i < len(oa); i++ {
		if c := compareInt(oa[i], ob[i]); c != 0 {
			return c
		}
	}
	ba, bb := a.Base(), b.Base()
	if c := strings.Compare(ba.Sub.Feature, bb.Sub.Feature); c != 0 {
		return c
	}
	if c := compareInt(int(ba.Sub.Behavior), int(bb.Sub.Behavior)); c != 0 {
		return c
	}
	if c := strings.Compare(ba.Sub.Role, bb.Sub.Role); c != 0 {
		return c
	}
	if c := compareInt(ba.Sub.LinkTargetBegin, bb.Sub.LinkTargetBegin); c != 0 {
		return c
	}
	if c := compareInt(ba.Sub.LinkTargetEnd, bb.Sub.LinkTargetEnd); c != 0 {
		return c
	}
	if c := strings.Compare(ba.Discriminator, bb.Discriminator); c != 0 {
		return c
	}
	if c := strings.Compare(ba.Document.CollectionID, bb.Document.CollectionID); c != 0 {
		return c
	}
	return strings.Compare(ba.Document.DocumentID, bb.Document.DocumentID)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
