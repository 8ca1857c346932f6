package main

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/Financial-Times/annotations-agreement/cas"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/pkg/errors"
)

// documentBundle carries the annotations of every annotator of one document.
// A null container stands for an annotator who made no annotations.
type documentBundle struct {
	CollectionID string                    `json:"collectionId"`
	DocumentID   string                    `json:"documentId"`
	Annotations  map[string]*cas.Container `json:"annotations"`
	// Finished lists the annotators who finished the document. Empty means
	// every annotator with a container.
	Finished []string `json:"finished,omitempty"`
}

type batchBundle struct {
	Documents []documentBundle `json:"documents"`
}

func decodeBundle(body io.Reader) (documentBundle, error) {
	var b documentBundle
	if err := json.NewDecoder(body).Decode(&b); err != nil {
		return b, err
	}
	return b, b.validate()
}

func (b documentBundle) validate() error {
	if len(b.Annotations) == 0 {
		return errors.New("bundle holds no annotators")
	}
	for _, id := range b.Finished {
		if _, ok := b.Annotations[id]; !ok {
			return errors.Errorf("finished annotator %s has no entry in the bundle", id)
		}
	}
	for _, id := range b.annotators() {
		if c := b.Annotations[id]; c != nil {
			if err := c.Validate(); err != nil {
				return errors.Wrapf(err, "annotations of %s", id)
			}
		}
	}
	return nil
}

func (b documentBundle) ref() diff.DocumentRef {
	return diff.DocumentRef{CollectionID: b.CollectionID, DocumentID: b.DocumentID}
}

// finished returns the containers of the annotators who finished the document.
func (b documentBundle) finished() map[string]*cas.Container {
	out := map[string]*cas.Container{}
	if len(b.Finished) == 0 {
		for id, c := range b.Annotations {
			if c != nil {
				out[id] = c
			}
		}
		return out
	}
	for _, id := range b.Finished {
		if c := b.Annotations[id]; c != nil {
			out[id] = c
		}
	}
	return out
}

func (b documentBundle) annotators() []string {
	ids := make([]string, 0, len(b.Annotations))
	for id := range b.Annotations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
