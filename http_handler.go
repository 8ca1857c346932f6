package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Financial-Times/annotations-agreement/agreement"
	"github.com/Financial-Times/annotations-agreement/curation"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/Financial-Times/annotations-agreement/forwarder"
	"github.com/Financial-Times/annotations-agreement/schema"

	logger "github.com/Financial-Times/go-logger/v2"
	transactionidutils "github.com/Financial-Times/transactionid-utils-go"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	documentIDVar = "documentId"
	layerVar      = "layer"
	featureVar    = "feature"
	userVar       = "user"
)

type httpHandler struct {
	registry          *diff.Registry
	tagsets           *schema.TagsetCache
	calculator        *agreement.Calculator
	curationService   *curation.Service
	forwarder         forwarder.QueueForwarder
	excludeIncomplete bool
	measure           string
	originSystem      string
	log               *logger.UPPLogger
}

type setView struct {
	Kind           string               `json:"kind"`
	Layer          string               `json:"layer"`
	Position       string               `json:"position"`
	Tags           diff.Tags            `json:"tags"`
	Values         []string             `json:"values"`
	Configurations []diff.Configuration `json:"configurations"`
}

// PostDiff aligns the annotations of a bundle and returns every configuration
// set with its diff-level tags.
func (hh *httpHandler) PostDiff(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	bundle, ok := hh.readBundle(w, r)
	if !ok {
		return
	}

	tid := transactionidutils.GetTransactionIDFromRequest(r)
	res, err := diff.Diff(hh.registry, bundle.Annotations, diff.Options{Document: bundle.ref(), Types: r.URL.Query()["type"]})
	if err != nil {
		hh.writeError(w, tid, bundle.DocumentID, err)
		return
	}

	sets := make([]setView, 0, len(res.Positions()))
	for _, s := range res.ConfigurationSets() {
		pos := s.Position()
		sets = append(sets, setView{
			Kind:           pos.Kind().String(),
			Layer:          pos.Type(),
			Position:       pos.Describe(),
			Tags:           s.Tags(),
			Values:         s.DistinctValues(),
			Configurations: s.All(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document":   res.Document(),
		"annotators": res.Annotators(),
		"stats":      res.Stats(),
		"sets":       sets,
	})
}

// PostAgreement computes the agreement of one document for a layer and
// feature. The study is returned as CSV when the client accepts text/csv.
func (hh *httpHandler) PostAgreement(w http.ResponseWriter, r *http.Request) {
	bundle, ok := hh.readBundle(w, r)
	if !ok {
		return
	}
	tid := transactionidutils.GetTransactionIDFromRequest(r)
	req, err := hh.agreementRequest(r)
	if err != nil {
		hh.writeError(w, tid, bundle.DocumentID, err)
		return
	}

	res, err := hh.calculator.CalculateDocument(bundle.ref(), bundle.Annotations, req)
	if err != nil {
		hh.writeError(w, tid, bundle.DocumentID, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/csv") {
		w.Header().Set("Content-Type", "text/csv; charset=UTF-8")
		w.WriteHeader(http.StatusOK)
		if err := agreement.WriteCSV(w, []*agreement.FullCodingAgreementResult{res.Study}, true); err != nil {
			hh.log.WithTransactionID(tid).WithUUID(bundle.DocumentID).WithError(err).Error("failed writing csv export")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":  res.Summary,
		"pairwise": res.Pairwise,
		"study":    res.Study,
	})
}

// PostBatchAgreement computes agreement over many documents. Documents with
// broken annotations are skipped and reported.
func (hh *httpHandler) PostBatchAgreement(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := isContentTypeJSON(r); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var batch batchBundle
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSONError(w, fmt.Sprintf("Error (%v) parsing batch request", err), http.StatusBadRequest)
		return
	}
	tid := transactionidutils.GetTransactionIDFromRequest(r)
	req, err := hh.agreementRequest(r)
	if err != nil {
		hh.writeError(w, tid, "", err)
		return
	}

	loader := agreement.MapLoader{}
	docs := make([]diff.DocumentRef, 0, len(batch.Documents))
	for _, b := range batch.Documents {
		ref := b.ref()
		if _, dup := loader[ref]; dup {
			writeJSONError(w, fmt.Sprintf("document %s appears twice in the batch", ref), http.StatusBadRequest)
			return
		}
		loader[ref] = b.Annotations
		docs = append(docs, ref)
	}

	calc := hh.calculator.WithLoader(loader)
	report, err := calc.Calculate(r.Context(), docs, req)
	if err != nil {
		hh.writeError(w, tid, "", err)
		return
	}
	hh.log.WithTransactionID(tid).WithField("documents", len(docs)).WithField("skipped", len(report.PerDocument.Skipped)).
		Infof("agreement calculated for %s/%s", req.Type, req.Feature)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":       report,
		"skippedCount": len(report.PerDocument.Skipped),
	})
}

// PutCuration returns the curation document of a user, creating it from the
// finished annotations in the bundle when it does not exist yet.
func (hh *httpHandler) PutCuration(w http.ResponseWriter, r *http.Request) {
	hh.curate(w, r, hh.curationService.Get)
}

// RecreateCuration derives the curation document again.
func (hh *httpHandler) RecreateCuration(w http.ResponseWriter, r *http.Request) {
	hh.curate(w, r, hh.curationService.Recreate)
}

func (hh *httpHandler) curate(w http.ResponseWriter, r *http.Request, action func(curation.Request) (curation.Outcome, error)) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	bundle, ok := hh.readBundle(w, r)
	if !ok {
		return
	}
	tid := transactionidutils.GetTransactionIDFromRequest(r)
	user := mux.Vars(r)[userVar]

	out, err := action(curation.Request{
		Document: bundle.ref(),
		Curator:  user,
		Template: r.URL.Query().Get("template"),
		Finished: bundle.finished(),
		Types:    r.URL.Query()["type"],
	})
	if err != nil {
		hh.writeError(w, tid, bundle.DocumentID, err)
		return
	}

	if out.Derived {
		hh.log.WithMonitoringEvent("CreateCuration", tid, "curation").WithUUID(bundle.DocumentID).
			Infof("curation document for %s created", user)
		if hh.forwarder != nil {
			event := forwarder.NewCurationEvent(bundle.ref(), user, out)
			if err := hh.forwarder.SendMessage(tid, hh.originSystem, nil, event); err != nil {
				msg := "Failed to forward message to queue"
				hh.log.WithTransactionID(tid).WithUUID(bundle.DocumentID).WithError(err).Error(msg)
				writeJSONError(w, msg, http.StatusInternalServerError)
				return
			}
		}
	}

	status := http.StatusOK
	if out.Derived {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// GetCuration returns a stored curation document.
func (hh *httpHandler) GetCuration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	vars := mux.Vars(r)
	doc := diff.DocumentRef{CollectionID: r.URL.Query().Get("collectionId"), DocumentID: vars[documentIDVar]}
	user := vars[userVar]

	tid := transactionidutils.GetTransactionIDFromRequest(r)
	c, found, err := hh.curationService.Read(doc, user)
	if err != nil {
		hh.writeError(w, tid, doc.DocumentID, err)
		return
	}
	if !found {
		writeJSONError(w, fmt.Sprintf("No curation document found for document %s and user %s.", doc.DocumentID, user), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (hh *httpHandler) readBundle(w http.ResponseWriter, r *http.Request) (documentBundle, bool) {
	if err := isContentTypeJSON(r); err != nil {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return documentBundle{}, false
	}
	bundle, err := decodeBundle(r.Body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		writeJSONError(w, fmt.Sprintf("Error (%v) parsing annotation bundle", err), http.StatusBadRequest)
		return documentBundle{}, false
	}
	documentID := mux.Vars(r)[documentIDVar]
	if bundle.DocumentID == "" {
		bundle.DocumentID = documentID
	} else if bundle.DocumentID != documentID {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		writeJSONError(w, "documentId in the body does not match the path", http.StatusBadRequest)
		return documentBundle{}, false
	}
	return bundle, true
}

func (hh *httpHandler) agreementRequest(r *http.Request) (agreement.Request, error) {
	vars := mux.Vars(r)
	query := r.URL.Query()
	req := agreement.Request{
		Type:              vars[layerVar],
		Feature:           vars[featureVar],
		ExcludeIncomplete: hh.excludeIncomplete,
		Annotators:        query["annotator"],
		Tagset:            hh.tagsets.Tags(vars[layerVar], vars[featureVar]),
	}
	if v := query.Get("excludeIncomplete"); v != "" {
		exclude, err := strconv.ParseBool(v)
		if err != nil {
			return req, diff.ConfigurationErrorf("excludeIncomplete must be a boolean, got %q", v)
		}
		req.ExcludeIncomplete = exclude
	}
	name := query.Get("measure")
	if name == "" {
		name = hh.measure
	}
	m, err := agreement.MeasureByName(name)
	if err != nil {
		return req, err
	}
	req.Measure = m
	return req, nil
}

func (hh *httpHandler) writeError(w http.ResponseWriter, tid, documentID string, err error) {
	var cfgErr diff.ConfigurationError
	var dataErr diff.DataError
	switch {
	case errors.As(err, &cfgErr):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &dataErr):
		hh.log.WithTransactionID(tid).WithUUID(documentID).WithError(err).Warn("inconsistent annotations")
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		hh.log.WithTransactionID(tid).WithUUID(documentID).WithError(err).Error("request failed")
		writeJSONError(w, fmt.Sprintf("Error processing request (%v)", err), http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorMsg string, statusCode int) {
	w.WriteHeader(statusCode)
	w.Write(jsonMessage(errorMsg))
}

func jsonMessage(msgText string) []byte {
	msg, _ := json.Marshal(map[string]string{"message": msgText})
	return msg
}

func isContentTypeJSON(r *http.Request) error {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "application/json") {
		return errors.New("Http Header 'Content-Type' is not 'application/json', this is a JSON API")
	}
	return nil
}
