package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Financial-Times/annotations-agreement/cas"
)

// LinkFeature declares a slot feature that takes part in the diff.
type LinkFeature struct {
	Name     string
	Behavior LinkCompareBehavior
}

// SubPositionRef is a sub-position produced for one link slot of an
// annotation.
type SubPositionRef struct {
	Position    Position
	Feature     string
	LinkIndex   int
	Fingerprint string
}

// Adapter knows how to turn annotations of one type into positions.
type Adapter interface {
	Type() string
	Kind() Kind
	// Features lists the primitive features compared for this type.
	Features() []string
	LinkFeatures() []LinkFeature
	HasFeature(name string) bool
	LinkFeature(name string) (LinkFeature, bool)
	Position(doc DocumentRef, c *cas.Container, a *cas.Annotation) (Position, error)
	SubPositions(doc DocumentRef, c *cas.Container, a *cas.Annotation) ([]SubPositionRef, error)
	// StackedEndpoint reports whether an endpoint of a relation is itself
	// stacked in the container. Spans never have stacked endpoints.
	StackedEndpoint(c *cas.Container, a *cas.Annotation) (bool, error)
	// Fingerprint is the value of the annotation at its primary position,
	// link slots excluded. Two annotations agree iff their fingerprints are
	// equal.
	Fingerprint(c *cas.Container, a *cas.Annotation) string
	// LinkLabel renders the label of one link slot.
	LinkLabel(c *cas.Container, a *cas.Annotation, feature string, index int) (string, error)
}

type adapterBase struct {
	typeName      string
	features      []string
	links         []LinkFeature
	discriminator string
}

func newAdapterBase(typeName string, features []string, links []LinkFeature) adapterBase {
	fs := append([]string(nil), features...)
	sort.Strings(fs)
	ls := append([]LinkFeature(nil), links...)
	sort.Slice(ls, func(i, j int) bool { return ls[i].Name < ls[j].Name })
	return adapterBase{typeName: typeName, features: fs, links: ls}
}

func (b *adapterBase) Type() string { return b.typeName }

func (b *adapterBase) Features() []string { return append([]string(nil), b.features...) }

func (b *adapterBase) LinkFeatures() []LinkFeature { return append([]LinkFeature(nil), b.links...) }

func (b *adapterBase) HasFeature(name string) bool {
	i := sort.SearchStrings(b.features, name)
	return i < len(b.features) && b.features[i] == name
}

func (b *adapterBase) LinkFeature(name string) (LinkFeature, bool) {
	for _, l := range b.links {
		if l.Name == name {
			return l, true
		}
	}
	return LinkFeature{}, false
}

func (b *adapterBase) base(doc DocumentRef, a *cas.Annotation) PositionBase {
	pb := PositionBase{Document: doc, TypeName: b.typeName}
	if b.discriminator != "" {
		pb.Discriminator = a.Features[b.discriminator]
	}
	return pb
}

func (b *adapterBase) subPositions(doc DocumentRef, c *cas.Container, a *cas.Annotation,
	primary func(PositionBase) Position) ([]SubPositionRef, error) {
	var refs []SubPositionRef
	for _, lf := range b.links {
		for i, link := range a.Links[lf.Name] {
			target, ok := c.Get(link.Target)
			if !ok {
				return nil, fmt.Errorf("link %s[%d] of annotation %d targets unknown address %d",
					lf.Name, i, a.Address, link.Target)
			}
			pb := b.base(doc, a)
			pb.Sub = SubPosition{Feature: lf.Name, Behavior: lf.Behavior, LinkTargetBegin: -1, LinkTargetEnd: -1}
			switch lf.Behavior {
			case LinkTargetAsLabel:
				pb.Sub.Role = link.Role
			case LinkRoleAsLabel:
				pb.Sub.LinkTargetBegin = target.Begin
				pb.Sub.LinkTargetEnd = target.End
			case LinkRoleAndTargetAsLabel:
				pb.Sub.Role = link.Role
				pb.Sub.LinkTargetBegin = target.Begin
				pb.Sub.LinkTargetEnd = target.End
			}
			refs = append(refs, SubPositionRef{
				Position:    primary(pb),
				Feature:     lf.Name,
				LinkIndex:   i,
				Fingerprint: slotKey(link.Role, target),
			})
		}
	}
	return refs, nil
}

// fingerprint covers the type and the primitive features. Link slots are
// compared at their sub-positions.
func (b *adapterBase) fingerprint(a *cas.Annotation) string {
	var sb strings.Builder
	sb.WriteString(b.typeName)
	for _, f := range b.features {
		if v, ok := a.Features[f]; ok {
			fmt.Fprintf(&sb, "|%s=%q", f, v)
		} else {
			fmt.Fprintf(&sb, "|%s=<null>", f)
		}
	}
	return sb.String()
}

func slotKey(role string, target *cas.Annotation) string {
	if target == nil {
		return fmt.Sprintf("%q@?", role)
	}
	return fmt.Sprintf("%q@%s:%d-%d", role, target.Type, target.Begin, target.End)
}

func (b *adapterBase) LinkLabel(c *cas.Container, a *cas.Annotation, feature string, index int) (string, error) {
	lf, ok := b.LinkFeature(feature)
	if !ok {
		return "", ConfigurationErrorf("type %s has no link feature %s", b.typeName, feature)
	}
	links := a.Links[feature]
	if index < 0 || index >= len(links) {
		return "", fmt.Errorf("annotation %d has no slot %d in link feature %s", a.Address, index, feature)
	}
	link := links[index]
	target, ok := c.Get(link.Target)
	if !ok {
		return "", fmt.Errorf("link %s[%d] of annotation %d targets unknown address %d", feature, index, a.Address, link.Target)
	}
	targetLabel := fmt.Sprintf("%d-%d [%s]", target.Begin, target.End, c.CoveredText(target))
	switch lf.Behavior {
	case LinkTargetAsLabel:
		return targetLabel, nil
	case LinkRoleAsLabel:
		return link.Role, nil
	case LinkRoleAndTargetAsLabel:
		return link.Role + "@" + targetLabel, nil
	}
	return "", ConfigurationErrorf("link feature %s of type %s has no compare behavior", feature, b.typeName)
}

// SpanAdapter handles span layers.
type SpanAdapter struct {
	adapterBase
}

// NewSpanAdapter creates an adapter for a span type.
func NewSpanAdapter(typeName string, features []string, links ...LinkFeature) *SpanAdapter {
	return &SpanAdapter{adapterBase: newAdapterBase(typeName, features, links)}
}

// WithDiscriminator makes the value of the feature part of the position, so
// annotations with different values never share a position.
func (s *SpanAdapter) WithDiscriminator(feature string) *SpanAdapter {
	s.discriminator = feature
	return s
}

func (s *SpanAdapter) Kind() Kind { return SpanKind }

func (s *SpanAdapter) Position(doc DocumentRef, _ *cas.Container, a *cas.Annotation) (Position, error) {
	return SpanPosition{PositionBase: s.base(doc, a), Begin: a.Begin, End: a.End}, nil
}

func (s *SpanAdapter) SubPositions(doc DocumentRef, c *cas.Container, a *cas.Annotation) ([]SubPositionRef, error) {
	return s.subPositions(doc, c, a, func(pb PositionBase) Position {
		return SpanPosition{PositionBase: pb, Begin: a.Begin, End: a.End}
	})
}

func (s *SpanAdapter) StackedEndpoint(*cas.Container, *cas.Annotation) (bool, error) {
	return false, nil
}

func (s *SpanAdapter) Fingerprint(_ *cas.Container, a *cas.Annotation) string {
	return s.fingerprint(a)
}

// RelationAdapter handles relation layers whose endpoints are held in two
// reference features.
type RelationAdapter struct {
	adapterBase
	sourceFeature string
	targetFeature string
	attachType    string
}

// NewRelationAdapter creates an adapter for a relation type.
func NewRelationAdapter(typeName, sourceFeature, targetFeature string, features []string, links ...LinkFeature) *RelationAdapter {
	return &RelationAdapter{
		adapterBase:   newAdapterBase(typeName, features, links),
		sourceFeature: sourceFeature,
		targetFeature: targetFeature,
	}
}

func (r *RelationAdapter) WithDiscriminator(feature string) *RelationAdapter {
	r.discriminator = feature
	return r
}

// WithAttachType names the span type endpoints belong to. Endpoint stacking
// then counts annotations of that type at the endpoint offsets.
func (r *RelationAdapter) WithAttachType(typeName string) *RelationAdapter {
	r.attachType = typeName
	return r
}

func (r *RelationAdapter) AttachType() string { return r.attachType }

func (r *RelationAdapter) Kind() Kind { return RelationKind }

// SourceFeature and TargetFeature name the endpoint reference features.
func (r *RelationAdapter) SourceFeature() string { return r.sourceFeature }
func (r *RelationAdapter) TargetFeature() string { return r.targetFeature }

// Endpoints resolves the source and target annotations of a relation.
func (r *RelationAdapter) Endpoints(c *cas.Container, a *cas.Annotation) (source, target *cas.Annotation, err error) {
	source, err = r.endpoint(c, a, r.sourceFeature)
	if err != nil {
		return nil, nil, err
	}
	target, err = r.endpoint(c, a, r.targetFeature)
	if err != nil {
		return nil, nil, err
	}
	return source, target, nil
}

func (r *RelationAdapter) endpoint(c *cas.Container, a *cas.Annotation, feature string) (*cas.Annotation, error) {
	addr, ok := a.Ref(feature)
	if !ok {
		return nil, fmt.Errorf("relation %d of type %s has no %s", a.Address, r.typeName, feature)
	}
	end, ok := c.Get(addr)
	if !ok {
		return nil, fmt.Errorf("relation %d of type %s: %s references unknown address %d", a.Address, r.typeName, feature, addr)
	}
	return end, nil
}

func (r *RelationAdapter) Position(doc DocumentRef, c *cas.Container, a *cas.Annotation) (Position, error) {
	source, target, err := r.Endpoints(c, a)
	if err != nil {
		return nil, err
	}
	return r.position(r.base(doc, a), source, target), nil
}

func (r *RelationAdapter) position(pb PositionBase, source, target *cas.Annotation) RelationPosition {
	return RelationPosition{
		PositionBase: pb,
		SourceBegin:  source.Begin,
		SourceEnd:    source.End,
		TargetBegin:  target.Begin,
		TargetEnd:    target.End,
	}
}

func (r *RelationAdapter) SubPositions(doc DocumentRef, c *cas.Container, a *cas.Annotation) ([]SubPositionRef, error) {
	source, target, err := r.Endpoints(c, a)
	if err != nil {
		return nil, err
	}
	return r.subPositions(doc, c, a, func(pb PositionBase) Position {
		return r.position(pb, source, target)
	})
}

func (r *RelationAdapter) StackedEndpoint(c *cas.Container, a *cas.Annotation) (bool, error) {
	source, target, err := r.Endpoints(c, a)
	if err != nil {
		return false, err
	}
	return r.stackedAt(c, source) || r.stackedAt(c, target), nil
}

func (r *RelationAdapter) stackedAt(c *cas.Container, end *cas.Annotation) bool {
	typeName := end.Type
	if r.attachType != "" {
		typeName = r.attachType
	}
	return len(c.SelectAt(typeName, end.Begin, end.End)) > 1
}

func (r *RelationAdapter) Fingerprint(_ *cas.Container, a *cas.Annotation) string {
	return r.fingerprint(a)
}

// Registry is the type to adapter table used by Diff. It is built once and
// only read afterwards.
type Registry struct {
	adapters map[string]Adapter
	types    []string
}

// NewRegistry validates the adapters and indexes them by type.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Type()]; dup {
			return nil, ConfigurationErrorf("type %s is registered twice", a.Type())
		}
		for _, lf := range a.LinkFeatures() {
			if a.HasFeature(lf.Name) {
				return nil, ConfigurationErrorf("feature %s of type %s is declared both primitive and link", lf.Name, a.Type())
			}
			if lf.Behavior == noLinkBehavior {
				return nil, ConfigurationErrorf("link feature %s of type %s has no compare behavior", lf.Name, a.Type())
			}
		}
		r.adapters[a.Type()] = a
		r.types = append(r.types, a.Type())
	}
	sort.Strings(r.types)
	return r, nil
}

// Adapter looks up the adapter for a type.
func (r *Registry) Adapter(typeName string) (Adapter, bool) {
	a, ok := r.adapters[typeName]
	return a, ok
}

// Types lists the registered types in sorted order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.types...)
}
