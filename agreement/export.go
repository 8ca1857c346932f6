package agreement

import (
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/pkg/errors"
)

var csvHeader = []string{"Type", "Collection", "Document", "Layer", "Feature", "Position", "Flags"}

// WriteCSV exports the relevant sets of the results as RFC 4180 CSV, one row
// per set and one column per annotator. All results must share the same
// annotators.
func WriteCSV(w io.Writer, results []*FullCodingAgreementResult, header bool) error {
	cw := csv.NewWriter(w)
	var annotators []string
	if len(results) > 0 {
		annotators = results[0].Study.Annotators
	}
	if header {
		if err := cw.Write(append(append([]string(nil), csvHeader...), annotators...)); err != nil {
			return err
		}
	}
	for _, r := range results {
		if !sameStrings(annotators, r.Study.Annotators) {
			return errors.Errorf("document %s has annotators %v, expected %v", r.Document, r.Study.Annotators, annotators)
		}
		for _, cs := range r.Relevant() {
			if err := cw.Write(csvRow(r, cs)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r *FullCodingAgreementResult, cs ClassifiedSet) []string {
	pos := cs.Set.Position()
	doc := pos.Base().Document
	row := []string{pos.Kind().String(), doc.CollectionID, doc.DocumentID, pos.Type(), r.Feature, pos.Describe(), cs.Tags.String()}
	for _, v := range cs.Values {
		row = append(row, Label(v))
	}
	return row
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetView is the JSON form of a classified configuration set.
type SetView struct {
	Kind           string               `json:"kind"`
	Layer          string               `json:"layer"`
	Position       string               `json:"position"`
	Tags           diff.Tags            `json:"tags"`
	Values         map[string]string    `json:"values,omitempty"`
	Configurations []diff.Configuration `json:"configurations"`
	Detail         diff.Position        `json:"detail"`
}

// Views renders the relevant sets of a result for JSON export.
func (r *FullCodingAgreementResult) Views() []SetView {
	var views []SetView
	for _, cs := range r.Relevant() {
		pos := cs.Set.Position()
		v := SetView{
			Kind:           pos.Kind().String(),
			Layer:          pos.Type(),
			Position:       pos.Describe(),
			Tags:           cs.Tags,
			Values:         map[string]string{},
			Configurations: cs.Set.All(),
			Detail:         pos,
		}
		for i, val := range cs.Values {
			v.Values[r.Study.Annotators[i]] = Label(val)
		}
		views = append(views, v)
	}
	return views
}

// MarshalJSON renders the result with its relevant sets.
func (r *FullCodingAgreementResult) MarshalJSON() ([]byte, error) {
	views := r.Views()
	if views == nil {
		views = []SetView{}
	}
	return json.Marshal(struct {
		Type              string           `json:"type"`
		Feature           string           `json:"feature"`
		Document          diff.DocumentRef `json:"document"`
		ExcludeIncomplete bool             `json:"excludeIncomplete"`
		Annotators        []string         `json:"annotators"`
		Categories        []string         `json:"categories"`
		ItemCount         int              `json:"itemCount"`
		Sets              []SetView        `json:"sets"`
	}{r.Type, r.Feature, r.Document, r.ExcludeIncomplete, r.Study.Annotators, r.Study.Categories,
		len(r.Study.Items), views})
}
