package cas

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Address identifies an annotation inside one container. Addresses are stable
// for the lifetime of the container and survive Copy.
type Address int

// NoAddress is never assigned to an annotation.
const NoAddress Address = -1

// Link is one filled slot of a link feature.
type Link struct {
	Role   string  `json:"role"`
	Target Address `json:"target"`
}

// Annotation is a single annotation instance. Primitive features hold their
// value as a string; an absent key means the feature is null.
type Annotation struct {
	Address  Address            `json:"address"`
	Type     string             `json:"type"`
	Begin    int                `json:"begin"`
	End      int                `json:"end"`
	Features map[string]string  `json:"features,omitempty"`
	Refs     map[string]Address `json:"refs,omitempty"`
	Links    map[string][]Link  `json:"links,omitempty"`
}

// Feature returns the value of a primitive feature and whether it is set.
func (a *Annotation) Feature(name string) (string, bool) {
	v, ok := a.Features[name]
	return v, ok
}

// Ref returns the address held by a reference feature.
func (a *Annotation) Ref(name string) (Address, bool) {
	v, ok := a.Refs[name]
	return v, ok
}

func (a *Annotation) clone() *Annotation {
	c := &Annotation{Address: a.Address, Type: a.Type, Begin: a.Begin, End: a.End}
	if a.Features != nil {
		c.Features = make(map[string]string, len(a.Features))
		for k, v := range a.Features {
			c.Features[k] = v
		}
	}
	if a.Refs != nil {
		c.Refs = make(map[string]Address, len(a.Refs))
		for k, v := range a.Refs {
			c.Refs[k] = v
		}
	}
	if a.Links != nil {
		c.Links = make(map[string][]Link, len(a.Links))
		for k, v := range a.Links {
			c.Links[k] = append([]Link(nil), v...)
		}
	}
	return c
}

// Window restricts selection to annotations covered by [Begin, End].
type Window struct {
	Begin int
	End   int
}

// Container holds all annotations of one annotator for one document.
type Container struct {
	text  string
	arena []*Annotation
	next  Address
}

// New creates an empty container over the document text.
func New(text string) *Container {
	return &Container{text: text}
}

// Text returns the document text.
func (c *Container) Text() string {
	return c.text
}

// Add stores a copy of the annotation under a fresh address and returns it.
func (c *Container) Add(a Annotation) Address {
	stored := a.clone()
	stored.Address = c.next
	c.next++
	c.arena = append(c.arena, stored)
	return stored.Address
}

// Get resolves an address.
func (c *Container) Get(addr Address) (*Annotation, bool) {
	i := c.index(addr)
	if i < 0 {
		return nil, false
	}
	return c.arena[i], true
}

// index finds the arena slot of addr. The arena is kept in address order.
func (c *Container) index(addr Address) int {
	i := sort.Search(len(c.arena), func(i int) bool { return c.arena[i].Address >= addr })
	if i < len(c.arena) && c.arena[i].Address == addr {
		return i
	}
	return -1
}

// Remove deletes the annotation at addr.
func (c *Container) Remove(addr Address) bool {
	i := c.index(addr)
	if i < 0 {
		return false
	}
	c.arena = append(c.arena[:i], c.arena[i+1:]...)
	return true
}

// RemoveLink deletes one slot of a link feature. The feature key is dropped
// when its last slot goes.
func (c *Container) RemoveLink(addr Address, feature string, index int) bool {
	a, ok := c.Get(addr)
	if !ok {
		return false
	}
	links := a.Links[feature]
	if index < 0 || index >= len(links) {
		return false
	}
	links = append(links[:index:index], links[index+1:]...)
	if len(links) == 0 {
		delete(a.Links, feature)
	} else {
		a.Links[feature] = links
	}
	return true
}

// Len returns the number of annotations.
func (c *Container) Len() int {
	return len(c.arena)
}

// All returns every annotation in address order.
func (c *Container) All() []*Annotation {
	return append([]*Annotation(nil), c.arena...)
}

// Select returns annotations of the given type ordered by begin ascending,
// end descending, then address. A nil window selects everything.
func (c *Container) Select(typeName string, window *Window) []*Annotation {
	var out []*Annotation
	for _, a := range c.arena {
		if a.Type != typeName {
			continue
		}
		if window != nil && (a.Begin < window.Begin || a.End > window.End) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Begin != out[j].Begin {
			return out[i].Begin < out[j].Begin
		}
		if out[i].End != out[j].End {
			return out[i].End > out[j].End
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// SelectAt returns annotations of the given type with exactly these offsets.
func (c *Container) SelectAt(typeName string, begin, end int) []*Annotation {
	var out []*Annotation
	for _, a := range c.arena {
		if a.Type == typeName && a.Begin == begin && a.End == end {
			out = append(out, a)
		}
	}
	return out
}

// Types lists the distinct annotation types present, sorted.
func (c *Container) Types() []string {
	seen := map[string]bool{}
	var types []string
	for _, a := range c.arena {
		if !seen[a.Type] {
			seen[a.Type] = true
			types = append(types, a.Type)
		}
	}
	sort.Strings(types)
	return types
}

// CoveredText returns the text spanned by the annotation.
func (c *Container) CoveredText(a *Annotation) string {
	if a.Begin < 0 || a.End > len(c.text) || a.Begin > a.End {
		return ""
	}
	return c.text[a.Begin:a.End]
}

// Copy returns a deep copy that keeps every address.
func (c *Container) Copy() *Container {
	cp := &Container{text: c.text, next: c.next, arena: make([]*Annotation, len(c.arena))}
	for i, a := range c.arena {
		cp.arena[i] = a.clone()
	}
	return cp
}

// Validate checks offsets and that every reference and link resolves.
func (c *Container) Validate() error {
	for _, a := range c.arena {
		if a.Begin < 0 || a.End < a.Begin || a.End > len(c.text) {
			return fmt.Errorf("annotation %d of type %s has invalid offsets [%d,%d) for text of length %d",
				a.Address, a.Type, a.Begin, a.End, len(c.text))
		}
		for name, ref := range a.Refs {
			if _, ok := c.Get(ref); !ok {
				return fmt.Errorf("annotation %d feature %s references unknown address %d", a.Address, name, ref)
			}
		}
		for name, links := range a.Links {
			for _, l := range links {
				if _, ok := c.Get(l.Target); !ok {
					return fmt.Errorf("annotation %d link feature %s targets unknown address %d", a.Address, name, l.Target)
				}
			}
		}
	}
	return nil
}

type containerJSON struct {
	Text        string        `json:"text"`
	Annotations []*Annotation `json:"annotations"`
}

// MarshalJSON encodes the container with its addresses.
func (c *Container) MarshalJSON() ([]byte, error) {
	anns := c.arena
	if anns == nil {
		anns = []*Annotation{}
	}
	return json.Marshal(containerJSON{Text: c.text, Annotations: anns})
}

// UnmarshalJSON decodes a container. Addresses in the payload are kept when
// present and unique; annotations without one get the next free address.
func (c *Container) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text        string            `json:"text"`
		Annotations []json.RawMessage `json:"annotations"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := make([]*Annotation, 0, len(raw.Annotations))
	explicit := make([]bool, 0, len(raw.Annotations))
	for _, msg := range raw.Annotations {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(msg, &fields); err != nil {
			return err
		}
		a := &Annotation{}
		if err := json.Unmarshal(msg, a); err != nil {
			return err
		}
		_, has := fields["address"]
		decoded = append(decoded, a)
		explicit = append(explicit, has)
	}

	*c = Container{text: raw.Text}
	used := map[Address]bool{}
	for i, a := range decoded {
		if !explicit[i] {
			continue
		}
		if a.Address < 0 || used[a.Address] {
			return fmt.Errorf("duplicate or negative annotation address %d", a.Address)
		}
		used[a.Address] = true
		if a.Address >= c.next {
			c.next = a.Address + 1
		}
	}
	for i, a := range decoded {
		if !explicit[i] {
			a.Address = c.next
			c.next++
		}
		c.arena = append(c.arena, a)
	}
	sort.Slice(c.arena, func(i, j int) bool { return c.arena[i].Address < c.arena[j].Address })
	return nil
}
