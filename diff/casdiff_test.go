package diff

import (
	"testing"

	"github.com/Financial-Times/annotations-agreement/cas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	docText     = "John works at Acme in Berlin."
	neType      = "NamedEntity"
	depType     = "Dependency"
	eventType   = "Event"
	valueFeat   = "value"
	depTypeFeat = "DependencyType"
	argsFeat    = "arguments"
)

var doc = DocumentRef{CollectionID: "project-1", DocumentID: "doc-1"}

func testRegistry(t *testing.T) *Registry {
	r, err := NewRegistry(
		NewSpanAdapter(neType, []string{valueFeat}),
		NewRelationAdapter(depType, "Governor", "Dependent", []string{depTypeFeat}),
		NewSpanAdapter(eventType, nil, LinkFeature{Name: argsFeat, Behavior: LinkTargetAsLabel}),
	)
	require.NoError(t, err)
	return r
}

func entity(c *cas.Container, begin, end int, value string) cas.Address {
	return c.Add(cas.Annotation{Type: neType, Begin: begin, End: end, Features: map[string]string{valueFeat: value}})
}

func relation(c *cas.Container, gov, dep cas.Address, label string) cas.Address {
	target, _ := c.Get(dep)
	return c.Add(cas.Annotation{
		Type: depType, Begin: target.Begin, End: target.End,
		Features: map[string]string{depTypeFeat: label},
		Refs:     map[string]cas.Address{"Governor": gov, "Dependent": dep},
	})
}

func spanAt(begin, end int) SpanPosition {
	return SpanPosition{PositionBase: PositionBase{Document: doc, TypeName: neType}, Begin: begin, End: end}
}

func TestDiffTwoAnnotatorsAgree(t *testing.T) {
	alice, bob := cas.New(docText), cas.New(docText)
	entity(alice, 0, 4, "PER")
	entity(bob, 0, 4, "PER")

	res, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice, "bob": bob}, Options{Document: doc})
	require.NoError(t, err)

	require.Len(t, res.Positions(), 1)
	set, ok := res.ConfigurationSet(spanAt(0, 4))
	require.True(t, ok, "positions compare structurally")
	assert.Equal(t, []string{"alice", "bob"}, set.Annotators())
	assert.True(t, set.Tags().Has(Complete))
	assert.False(t, set.Tags().Has(Difference))
	assert.True(t, res.IsAgreement(set))
	assert.Equal(t, Stats{Positions: 1, Agreeing: 1}, res.Stats())
}

func TestDiffMissingAnnotatorIsIncompletePosition(t *testing.T) {
	alice, bob := cas.New(docText), cas.New(docText)
	entity(alice, 0, 4, "PER")

	res, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice, "bob": bob}, Options{Document: doc})
	require.NoError(t, err)

	set, ok := res.ConfigurationSet(spanAt(0, 4))
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, set.Annotators())
	assert.True(t, set.Tags().Has(IncompletePosition))
	assert.False(t, set.Tags().Has(Complete))
	assert.False(t, res.IsAgreement(set))
}

func TestDiffNilContainerCountsAsAnnotator(t *testing.T) {
	alice := cas.New(docText)
	entity(alice, 0, 4, "PER")

	res, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice, "bob": nil}, Options{Document: doc})
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, res.Annotators())
	set, _ := res.ConfigurationSet(spanAt(0, 4))
	assert.True(t, set.Tags().Has(IncompletePosition))
}

func TestDiffStackedSupersedesIncomplete(t *testing.T) {
	alice, bob := cas.New(docText), cas.New(docText)
	entity(alice, 0, 4, "PER")
	entity(alice, 0, 4, "ORG")

	res, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice, "bob": bob}, Options{Document: doc})
	require.NoError(t, err)

	set, ok := res.ConfigurationSet(spanAt(0, 4))
	require.True(t, ok)
	assert.Len(t, set.Configurations("alice"), 2)
	assert.True(t, set.IsStacked("alice"))
	assert.True(t, set.Tags().Has(Stacked))
	assert.False(t, set.Tags().Has(IncompletePosition))
	assert.False(t, set.Tags().Has(Complete))
}

func TestDiffThreeAnnotatorsDisagree(t *testing.T) {
	containers := map[string]*cas.Container{}
	for name, label := range map[string]string{"alice": "PER", "bob": "PER", "carol": "ORG"} {
		c := cas.New(docText)
		entity(c, 0, 4, label)
		containers[name] = c
	}

	res, err := Diff(testRegistry(t), containers, Options{Document: doc})
	require.NoError(t, err)

	set, _ := res.ConfigurationSet(spanAt(0, 4))
	assert.True(t, set.Tags().Has(Difference))
	assert.True(t, set.Tags().Has(Complete))
	assert.Len(t, set.DistinctValues(), 2)
	assert.False(t, res.IsAgreement(set))
}

func TestDiffRelationWithStackedTargetEndpoint(t *testing.T) {
	alice, bob := cas.New(docText), cas.New(docText)

	aGov := entity(alice, 0, 4, "PER")
	aDep := entity(alice, 14, 18, "ORG")
	entity(alice, 14, 18, "LOC")
	relation(alice, aGov, aDep, "employer")

	bGov := entity(bob, 0, 4, "PER")
	bDep := entity(bob, 14, 18, "ORG")
	relation(bob, bGov, bDep, "employer")

	res, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice, "bob": bob}, Options{Document: doc})
	require.NoError(t, err)

	relPos := RelationPosition{
		PositionBase: PositionBase{Document: doc, TypeName: depType},
		SourceBegin:  0, SourceEnd: 4, TargetBegin: 14, TargetEnd: 18,
	}
	set, ok := res.ConfigurationSet(relPos)
	require.True(t, ok)
	assert.Len(t, set.Configurations("alice"), 1)
	assert.Len(t, set.Configurations("bob"), 1)
	assert.True(t, set.IsStacked("alice"))
	assert.False(t, set.IsStacked("bob"))
	assert.True(t, set.Tags().Has(Stacked))
	assert.False(t, set.Tags().Has(Complete))
}

func TestRelationStackedEndpointUsesAttachType(t *testing.T) {
	c := cas.New(docText)
	gov := c.Add(cas.Annotation{Type: "Token", Begin: 0, End: 4})
	dep := c.Add(cas.Annotation{Type: "Token", Begin: 14, End: 18})
	entity(c, 14, 18, "ORG")
	entity(c, 14, 18, "LOC")
	rel, _ := c.Get(relation(c, gov, dep, "employer"))

	plain := NewRelationAdapter(depType, "Governor", "Dependent", []string{depTypeFeat})
	stacked, err := plain.StackedEndpoint(c, rel)
	require.NoError(t, err)
	assert.False(t, stacked, "one token per endpoint")

	attached := NewRelationAdapter(depType, "Governor", "Dependent", []string{depTypeFeat}).WithAttachType(neType)
	assert.Equal(t, neType, attached.AttachType())
	stacked, err = attached.StackedEndpoint(c, rel)
	require.NoError(t, err)
	assert.True(t, stacked, "two entities under the dependent")
}

func TestDiffRelationWithDanglingEndpointIsDataError(t *testing.T) {
	alice := cas.New(docText)
	alice.Add(cas.Annotation{Type: depType, Begin: 0, End: 4, Refs: map[string]cas.Address{"Governor": 99, "Dependent": 98}})

	_, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice}, Options{Document: doc})
	require.Error(t, err)
	var dataErr DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, "alice", dataErr.Annotator)
}

func TestDiffLinkFeatureSubPositions(t *testing.T) {
	alice, bob := cas.New(docText), cas.New(docText)
	for _, c := range []*cas.Container{alice, bob} {
		john := entity(c, 0, 4, "PER")
		acme := entity(c, 14, 18, "ORG")
		c.Add(cas.Annotation{Type: eventType, Begin: 5, End: 10, Links: map[string][]cas.Link{
			argsFeat: {{Role: "agent", Target: john}, {Role: "employer", Target: acme}},
		}})
	}

	res, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice, "bob": bob}, Options{Document: doc})
	require.NoError(t, err)

	agentPos := SpanPosition{
		PositionBase: PositionBase{Document: doc, TypeName: eventType, Sub: SubPosition{
			Feature: argsFeat, Role: "agent", Behavior: LinkTargetAsLabel, LinkTargetBegin: -1, LinkTargetEnd: -1,
		}},
		Begin: 5, End: 10,
	}
	set, ok := res.ConfigurationSet(agentPos)
	require.True(t, ok)
	cfgs := set.Configurations("bob")
	require.Len(t, cfgs, 1)
	assert.Equal(t, argsFeat, cfgs[0].Feature)
	assert.Equal(t, 0, cfgs[0].LinkIndex)
	assert.True(t, res.IsAgreement(set))

	primary := SpanPosition{PositionBase: PositionBase{Document: doc, TypeName: eventType}, Begin: 5, End: 10}
	primarySet, ok := res.ConfigurationSet(primary)
	require.True(t, ok)
	assert.Equal(t, -1, primarySet.Configurations("alice")[0].LinkIndex)

	// 2 entities + event + 2 slots
	assert.Len(t, res.Positions(), 5)
}

func TestDiffRoleAndTargetSlotsGetTheirOwnSubPositions(t *testing.T) {
	r, err := NewRegistry(
		NewSpanAdapter(neType, []string{valueFeat}),
		NewSpanAdapter(eventType, nil, LinkFeature{Name: argsFeat, Behavior: LinkRoleAndTargetAsLabel}),
	)
	require.NoError(t, err)

	alice, bob := cas.New(docText), cas.New(docText)
	for _, c := range []*cas.Container{alice, bob} {
		john := entity(c, 0, 4, "PER")
		acme := entity(c, 14, 18, "ORG")
		c.Add(cas.Annotation{Type: eventType, Begin: 5, End: 10, Links: map[string][]cas.Link{
			argsFeat: {{Role: "agent", Target: john}, {Role: "place", Target: acme}},
		}})
	}

	res, err := Diff(r, map[string]*cas.Container{"alice": alice, "bob": bob}, Options{Document: doc})
	require.NoError(t, err)

	placePos := SpanPosition{
		PositionBase: PositionBase{Document: doc, TypeName: eventType, Sub: SubPosition{
			Feature: argsFeat, Role: "place", Behavior: LinkRoleAndTargetAsLabel, LinkTargetBegin: 14, LinkTargetEnd: 18,
		}},
		Begin: 5, End: 10,
	}
	set, ok := res.ConfigurationSet(placePos)
	require.True(t, ok)
	assert.Equal(t, 1, set.Configurations("alice")[0].LinkIndex)
	assert.Equal(t, "5-10 arguments role=place target=14-18", placePos.Describe())

	for _, s := range res.ConfigurationSets() {
		assert.False(t, s.Tags().Has(Stacked), s.Position().Describe())
		assert.False(t, s.Tags().Has(Difference), s.Position().Describe())
		assert.True(t, res.IsAgreement(s), s.Position().Describe())
	}
	// 2 entities + event + 2 slots
	assert.Len(t, res.Positions(), 5)
	assert.Equal(t, Stats{Positions: 5, Agreeing: 5}, res.Stats())
}

func TestDiffWindowAndTypeRestriction(t *testing.T) {
	alice := cas.New(docText)
	entity(alice, 0, 4, "PER")
	entity(alice, 22, 28, "LOC")

	res, err := Diff(testRegistry(t), map[string]*cas.Container{"alice": alice},
		Options{Document: doc, Types: []string{neType}, Window: &cas.Window{Begin: 20, End: 29}})
	require.NoError(t, err)
	require.Len(t, res.Positions(), 1)
	assert.Equal(t, 22, res.Positions()[0].(SpanPosition).Begin)

	_, err = Diff(testRegistry(t), map[string]*cas.Container{"alice": alice}, Options{Types: []string{"Unknown"}})
	var cfgErr ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDiffCasGroupIdsAreSubsetOfAnnotators(t *testing.T) {
	containers := map[string]*cas.Container{"a": cas.New(docText), "b": cas.New(docText), "c": cas.New(docText)}
	entity(containers["a"], 0, 4, "PER")
	entity(containers["b"], 14, 18, "ORG")
	entity(containers["c"], 0, 4, "PER")
	entity(containers["c"], 22, 28, "LOC")

	res, err := Diff(testRegistry(t), containers, Options{Document: doc})
	require.NoError(t, err)

	all := map[string]bool{"a": true, "b": true, "c": true}
	for _, set := range res.ConfigurationSets() {
		for _, id := range set.Annotators() {
			assert.True(t, all[id])
		}
	}
}

func TestNewRegistryRejectsFeatureDeclaredTwice(t *testing.T) {
	_, err := NewRegistry(NewSpanAdapter(eventType, []string{argsFeat}, LinkFeature{Name: argsFeat, Behavior: LinkRoleAsLabel}))
	var cfgErr ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = NewRegistry(NewSpanAdapter(neType, nil), NewSpanAdapter(neType, nil))
	assert.Error(t, err)

	_, err = NewRegistry(NewSpanAdapter(eventType, nil, LinkFeature{Name: argsFeat}))
	assert.Error(t, err, "link features need a compare behavior")
}
