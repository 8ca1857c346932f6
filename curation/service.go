package curation

import (
	"sort"
	"sync"

	"github.com/Financial-Times/annotations-agreement/cas"
	"github.com/Financial-Times/annotations-agreement/diff"
	logger "github.com/Financial-Times/go-logger/v2"
	"github.com/pkg/errors"
)

// State is the curation state of a document for one curator.
type State int

const (
	NotCreated State = iota
	Created
)

func (s State) String() string {
	if s == Created {
		return "CREATED"
	}
	return "NOT_CREATED"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Request asks for the curation document of a document.
type Request struct {
	Document diff.DocumentRef
	Curator  string
	// Template names the annotator whose container seeds the merge. Empty
	// means the first finished annotator in sorted order.
	Template string
	// Finished holds the containers of the annotators who finished the document.
	Finished map[string]*cas.Container
	// Types restricts the merge to these types. Empty means every type of
	// the registry.
	Types []string
}

// Outcome is the result of a curation request.
type Outcome struct {
	State     State          `json:"state"`
	Derived   bool           `json:"derived"`
	Skipped   bool           `json:"skipped,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Merge     *MergeStats    `json:"merge,omitempty"`
	Diff      *diff.Stats    `json:"diff,omitempty"`
	Container *cas.Container `json:"document,omitempty"`
}

// Service moves documents from NOT_CREATED to CREATED by deriving and storing
// the merge container.
type Service struct {
	store    Store
	builder  *Builder
	registry *diff.Registry
	log      *logger.UPPLogger

	mu    sync.Mutex
	locks map[storeKey]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewService(store Store, builder *Builder, registry *diff.Registry, log *logger.UPPLogger) *Service {
	return &Service{store: store, builder: builder, registry: registry, log: log, locks: map[storeKey]*keyLock{}}
}

// lock serialises Get and Recreate for one document and curator.
func (s *Service) lock(doc diff.DocumentRef, curator string) func() {
	key := storeKey{doc: doc, user: curator}
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Get returns the stored curation document, deriving and storing it first
// when it does not exist yet. Concurrent calls for the same document and
// curator derive at most once within this process; the store is not locked
// across replicas.
func (s *Service) Get(req Request) (Outcome, error) {
	defer s.lock(req.Document, req.Curator)()
	c, found, err := s.store.Read(req.Document, req.Curator)
	if err != nil {
		return Outcome{}, err
	}
	if found {
		return Outcome{State: Created, Container: c}, nil
	}
	return s.derive(req)
}

// Recreate derives the curation document again, replacing a stored one.
func (s *Service) Recreate(req Request) (Outcome, error) {
	defer s.lock(req.Document, req.Curator)()
	return s.derive(req)
}

// Read returns the stored curation document without deriving it.
func (s *Service) Read(doc diff.DocumentRef, curator string) (*cas.Container, bool, error) {
	return s.store.Read(doc, curator)
}

// Exists reports whether a curation document has been stored.
func (s *Service) Exists(doc diff.DocumentRef, curator string) (bool, error) {
	_, found, err := s.store.Read(doc, curator)
	return found, err
}

// Check tests the store.
func (s *Service) Check() error {
	return s.store.Check()
}

func (s *Service) derive(req Request) (Outcome, error) {
	finished := make(map[string]*cas.Container, len(req.Finished))
	for id, c := range req.Finished {
		if c != nil {
			finished[id] = c
		}
	}
	if len(finished) == 0 {
		s.log.WithField("document", req.Document.String()).WithField("curator", req.Curator).
			Info("no finished annotations, curation document not created")
		return Outcome{State: NotCreated, Skipped: true, Reason: "no annotator has finished the document"}, nil
	}

	template, err := chooseTemplate(req.Template, finished)
	if err != nil {
		return Outcome{}, err
	}
	d, err := diff.Diff(s.registry, finished, diff.Options{Document: req.Document, Types: req.Types})
	if err != nil {
		return Outcome{}, err
	}
	merged, stats, err := s.builder.Build(d, template)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.store.Write(req.Document, req.Curator, merged); err != nil {
		return Outcome{}, errors.Wrapf(err, "storing curation document of %s for %s", req.Document, req.Curator)
	}
	diffStats := d.Stats()
	s.log.WithField("document", req.Document.String()).WithField("curator", req.Curator).
		WithField("template", template).WithField("strategy", stats.Strategy).
		Infof("curation document created with %d annotations, %d rejected", stats.Kept, stats.Rejected)
	return Outcome{State: Created, Derived: true, Merge: &stats, Diff: &diffStats, Container: merged}, nil
}

func chooseTemplate(explicit string, finished map[string]*cas.Container) (string, error) {
	if explicit != "" {
		if _, ok := finished[explicit]; !ok {
			return "", diff.ConfigurationErrorf("template annotator %s has not finished the document", explicit)
		}
		return explicit, nil
	}
	ids := make([]string, 0, len(finished))
	for id := range finished {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], nil
}
