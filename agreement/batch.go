package agreement

import (
	"context"
	"sync"
	"time"

	"github.com/Financial-Times/annotations-agreement/cas"
	"github.com/Financial-Times/annotations-agreement/diff"
	logger "github.com/Financial-Times/go-logger/v2"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

// DocumentLoader supplies the per annotator containers of a document. It is
// implemented by the storage collaborator.
type DocumentLoader interface {
	Load(ctx context.Context, doc diff.DocumentRef) (map[string]*cas.Container, error)
}

// Request describes one agreement calculation.
type Request struct {
	Type              string
	Feature           string
	Measure           Measure
	ExcludeIncomplete bool
	Annotators        []string
	Tagset            []string
}

func (r Request) studyOptions(annotators []string) StudyOptions {
	return StudyOptions{Annotators: annotators, Tagset: r.Tagset, ExcludeIncomplete: r.ExcludeIncomplete}
}

// Report is the outcome of an agreement calculation.
type Report struct {
	PerDocument *PerDocumentAgreementResult `json:"perDocument"`
	Overall     *AgreementSummary           `json:"overall"`
	Pairwise    *PairwiseAgreementResult    `json:"pairwise"`
}

// DocumentResult is the agreement of a single document.
type DocumentResult struct {
	Study    *FullCodingAgreementResult
	Summary  AgreementSummary
	Pairwise *PairwiseAgreementResult
}

// Calculator runs agreement calculations over documents.
type Calculator struct {
	registry    *diff.Registry
	loader      DocumentLoader
	log         *logger.UPPLogger
	parallelism int
	docTimer    metrics.Timer
	skipped     metrics.Counter
}

// NewCalculator creates a calculator. parallelism bounds the number of
// documents processed at once; values below one mean one.
func NewCalculator(registry *diff.Registry, loader DocumentLoader, log *logger.UPPLogger,
	parallelism int, registryM metrics.Registry) *Calculator {
	if parallelism < 1 {
		parallelism = 1
	}
	if registryM == nil {
		registryM = metrics.DefaultRegistry
	}
	return &Calculator{
		registry:    registry,
		loader:      loader,
		log:         log,
		parallelism: parallelism,
		docTimer:    metrics.GetOrRegisterTimer("agreement.document", registryM),
		skipped:     metrics.GetOrRegisterCounter("agreement.document.skipped", registryM),
	}
}

// WithLoader returns a calculator sharing this one's settings and metrics
// that reads documents from another loader.
func (c *Calculator) WithLoader(loader DocumentLoader) *Calculator {
	cp := *c
	cp.loader = loader
	return &cp
}

// CalculateDocument computes study, summary and pairwise agreement for one
// document whose containers are already loaded.
func (c *Calculator) CalculateDocument(doc diff.DocumentRef, containers map[string]*cas.Container, req Request) (*DocumentResult, error) {
	if req.Measure == nil {
		return nil, diff.ConfigurationErrorf("no agreement measure selected")
	}
	start := time.Now()
	defer c.docTimer.UpdateSince(start)

	d, err := diff.Diff(c.registry, containers, diff.Options{Document: doc, Types: []string{req.Type}})
	if err != nil {
		return nil, err
	}
	study, err := MakeCodingStudy(d, req.Type, req.Feature, req.studyOptions(req.Annotators))
	if err != nil {
		return nil, err
	}
	res := &DocumentResult{
		Study:    study,
		Summary:  Summarize(study, req.Measure),
		Pairwise: NewPairwiseAgreementResult(req.Type, req.Feature),
	}

	raters := study.Study.Annotators
	for i := 0; i < len(raters); i++ {
		for j := i + 1; j < len(raters); j++ {
			pair, err := MakeCodingStudy(d, req.Type, req.Feature, req.studyOptions([]string{raters[i], raters[j]}))
			if err != nil {
				return nil, err
			}
			if err := res.Pairwise.Add(raters[i], raters[j], Summarize(pair, req.Measure)); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

// Calculate processes the documents in parallel. A document that fails to
// load or holds inconsistent data is logged and skipped; a configuration
// error aborts the whole calculation.
func (c *Calculator) Calculate(ctx context.Context, docs []diff.DocumentRef, req Request) (*Report, error) {
	results := make([]*DocumentResult, len(docs))
	failures := make([]error, len(docs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, doc := range docs {
		g.Go(func() error {
			res, err := c.document(gctx, doc, req)
			if err == nil {
				mu.Lock()
				results[i] = res
				mu.Unlock()
				return nil
			}
			var cfgErr diff.ConfigurationError
			if errors.As(err, &cfgErr) {
				return err
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			c.skipped.Inc(1)
			c.log.WithField("document", doc.String()).WithError(err).Warn("skipping document in agreement calculation")
			mu.Lock()
			failures[i] = err
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		PerDocument: NewPerDocumentAgreementResult(req.Type, req.Feature),
		Pairwise:    NewPairwiseAgreementResult(req.Type, req.Feature),
	}
	for i, doc := range docs {
		if failures[i] != nil {
			report.PerDocument.Skip(doc, failures[i])
			continue
		}
		report.PerDocument.Add(doc, results[i].Summary)
		if err := report.Pairwise.Merge(results[i].Pairwise); err != nil {
			return nil, err
		}
	}
	overall, ok, err := report.PerDocument.Overall()
	if err != nil {
		return nil, err
	}
	if ok {
		report.Overall = &overall
	}
	return report, nil
}

func (c *Calculator) document(ctx context.Context, doc diff.DocumentRef, req Request) (*DocumentResult, error) {
	containers, err := c.loader.Load(ctx, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "loading document %s", doc)
	}
	return c.CalculateDocument(doc, containers, req)
}

// MapLoader serves containers that are already in memory, e.g. the documents
// of a batch request. Containers are validated on load.
type MapLoader map[diff.DocumentRef]map[string]*cas.Container

func (m MapLoader) Load(_ context.Context, doc diff.DocumentRef) (map[string]*cas.Container, error) {
	containers, ok := m[doc]
	if !ok {
		return nil, errors.Errorf("no annotations for document %s", doc)
	}
	for annotator, c := range containers {
		if c == nil {
			continue
		}
		if err := c.Validate(); err != nil {
			return nil, errors.Wrapf(err, "container of annotator %s", annotator)
		}
	}
	return containers, nil
}
