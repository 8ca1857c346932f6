package schema

// TagsetCache resolves the closed vocabulary of a feature. It is built once
// from a schema and is read-only afterwards, so it can be shared between
// requests.
type TagsetCache struct {
	tags map[string][]string
}

// NewTagsetCache indexes the tagsets of every feature of the schema.
func NewTagsetCache(s *Schema) *TagsetCache {
	c := &TagsetCache{tags: map[string][]string{}}
	for _, l := range s.Layers {
		for _, f := range l.Features {
			if f.Tagset != "" {
				c.tags[key(l.Name, f.Name)] = append([]string(nil), s.Tagsets[f.Tagset]...)
			}
		}
		for _, lf := range l.Links {
			if lf.Tagset != "" {
				c.tags[key(l.Name, lf.Name)] = append([]string(nil), s.Tagsets[lf.Tagset]...)
			}
		}
	}
	return c
}

// Tags returns the tags of a feature, nil for open vocabularies. The returned
// slice must not be modified.
func (c *TagsetCache) Tags(layer, feature string) []string {
	if c == nil {
		return nil
	}
	return c.tags[key(layer, feature)]
}

func key(layer, feature string) string {
	return layer + "\x00" + feature
}
