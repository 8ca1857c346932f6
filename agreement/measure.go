package agreement

import (
	"math"
	"strings"

	"github.com/Financial-Times/annotations-agreement/diff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Measure computes an agreement coefficient over a coding study. Undefined
// coefficients are NaN.
type Measure interface {
	Name() string
	Calculate(study CodingStudy) float64
}

// Measure names accepted by MeasureByName.
const (
	PercentageAgreementName = "percentage"
	CohenKappaName          = "cohen-kappa"
	FleissKappaName         = "fleiss-kappa"
	KrippendorffAlphaName   = "krippendorff-alpha"
)

// MeasureByName looks up a measure.
func MeasureByName(name string) (Measure, error) {
	switch strings.ToLower(name) {
	case PercentageAgreementName:
		return PercentageAgreement{}, nil
	case CohenKappaName:
		return CohenKappa{}, nil
	case FleissKappaName, "":
		return FleissKappa{}, nil
	case KrippendorffAlphaName:
		return KrippendorffAlpha{}, nil
	}
	return nil, diff.ConfigurationErrorf("unknown agreement measure %q", name)
}

// PercentageAgreement is the mean share of agreeing rater pairs per item.
// Items with fewer than two values are skipped.
type PercentageAgreement struct{}

func (PercentageAgreement) Name() string { return PercentageAgreementName }

func (PercentageAgreement) Calculate(study CodingStudy) float64 {
	var perItem []float64
	for _, item := range study.Items {
		values := present(item)
		if len(values) < 2 {
			continue
		}
		agree, pairs := 0.0, 0.0
		for i := 0; i < len(values); i++ {
			for j := i + 1; j < len(values); j++ {
				pairs++
				if values[i] == values[j] {
					agree++
				}
			}
		}
		perItem = append(perItem, agree/pairs)
	}
	if len(perItem) == 0 {
		return math.NaN()
	}
	return stat.Mean(perItem, nil)
}

// CohenKappa is Cohen's kappa for exactly two raters over the items both
// raters coded.
type CohenKappa struct{}

func (CohenKappa) Name() string { return CohenKappaName }

func (CohenKappa) Calculate(study CodingStudy) float64 {
	if len(study.Annotators) != 2 {
		return math.NaN()
	}
	idx := categoryIndex(study)
	k := len(idx)
	if k == 0 {
		return math.NaN()
	}
	confusion := mat.NewDense(k, k, nil)
	n := 0.0
	for _, item := range study.Items {
		a, b := item.Values[0], item.Values[1]
		if a == nil || b == nil {
			continue
		}
		i, j := idx[*a], idx[*b]
		confusion.Set(i, j, confusion.At(i, j)+1)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	observed := 0.0
	for i := 0; i < k; i++ {
		observed += confusion.At(i, i)
	}
	observed /= n

	expected := 0.0
	for i := 0; i < k; i++ {
		row := floats.Sum(mat.Row(nil, i, confusion))
		col := floats.Sum(mat.Col(nil, i, confusion))
		expected += (row / n) * (col / n)
	}
	return chanceCorrected(observed, expected)
}

// FleissKappa is Fleiss' kappa over the items every rater coded.
type FleissKappa struct{}

func (FleissKappa) Name() string { return FleissKappaName }

func (FleissKappa) Calculate(study CodingStudy) float64 {
	raters := len(study.Annotators)
	if raters < 2 {
		return math.NaN()
	}
	idx := categoryIndex(study)
	var rows [][]float64
	for _, item := range study.Items {
		values := present(item)
		if len(values) != raters {
			continue
		}
		row := make([]float64, len(idx))
		for _, v := range values {
			row[idx[v]]++
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return math.NaN()
	}

	counts := mat.NewDense(len(rows), len(idx), nil)
	for i, row := range rows {
		counts.SetRow(i, row)
	}
	r := float64(raters)
	perItem := make([]float64, len(rows))
	for i := range rows {
		row := counts.RawRowView(i)
		sq := floats.Dot(row, row)
		perItem[i] = (sq - r) / (r * (r - 1))
	}
	observed := stat.Mean(perItem, nil)

	total := float64(len(rows)) * r
	expected := 0.0
	for j := 0; j < len(idx); j++ {
		p := floats.Sum(mat.Col(nil, j, counts)) / total
		expected += p * p
	}
	return chanceCorrected(observed, expected)
}

// KrippendorffAlpha is Krippendorff's alpha with the nominal distance. Items
// with fewer than two values are not pairable and are skipped.
type KrippendorffAlpha struct{}

func (KrippendorffAlpha) Name() string { return KrippendorffAlphaName }

func (KrippendorffAlpha) Calculate(study CodingStudy) float64 {
	idx := categoryIndex(study)
	k := len(idx)
	if k == 0 {
		return math.NaN()
	}
	coincidence := mat.NewDense(k, k, nil)
	for _, item := range study.Items {
		values := present(item)
		m := float64(len(values))
		if m < 2 {
			continue
		}
		for i := range values {
			for j := range values {
				if i == j {
					continue
				}
				c, d := idx[values[i]], idx[values[j]]
				coincidence.Set(c, d, coincidence.At(c, d)+1/(m-1))
			}
		}
	}

	marginals := make([]float64, k)
	for c := 0; c < k; c++ {
		marginals[c] = floats.Sum(mat.Row(nil, c, coincidence))
	}
	n := floats.Sum(marginals)
	if n <= 1 {
		return math.NaN()
	}
	observed, expected := 0.0, 0.0
	for c := 0; c < k; c++ {
		for d := 0; d < k; d++ {
			if c == d {
				continue
			}
			observed += coincidence.At(c, d)
			expected += marginals[c] * marginals[d]
		}
	}
	if expected == 0 {
		return math.NaN()
	}
	return 1 - (n-1)*observed/expected
}

func chanceCorrected(observed, expected float64) float64 {
	if expected == 1 {
		return math.NaN()
	}
	return (observed - expected) / (1 - expected)
}

func present(item CodingItem) []string {
	var out []string
	for _, v := range item.Values {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// categoryIndex maps every category of the study, and every value that
// slipped past the category list, to a matrix index.
func categoryIndex(study CodingStudy) map[string]int {
	idx := map[string]int{}
	for _, c := range study.Categories {
		if _, ok := idx[c]; !ok {
			idx[c] = len(idx)
		}
	}
	for _, item := range study.Items {
		for _, v := range item.Values {
			if v == nil {
				continue
			}
			if _, ok := idx[*v]; !ok {
				idx[*v] = len(idx)
			}
		}
	}
	return idx
}
