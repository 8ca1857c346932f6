package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Financial-Times/annotations-agreement/agreement"
	"github.com/Financial-Times/annotations-agreement/curation"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/Financial-Times/annotations-agreement/forwarder"
	"github.com/Financial-Times/annotations-agreement/schema"

	logger "github.com/Financial-Times/go-logger/v2"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	knownDocument = "doc-1"
	curator       = "curation-user"
	originSystem  = "http://cmdb.ft.com/systems/annotation-tool"
)

type HttpHandlerTestSuite struct {
	suite.Suite
	body               []byte
	batch              []byte
	store              *curation.MemoryStore
	forwarder          *forwarder.MockForwarder
	handler            httpHandler
	healthCheckHandler healthCheckHandler
	log                *logger.UPPLogger
}

func (suite *HttpHandlerTestSuite) SetupTest() {
	suite.log = logger.NewUPPInfoLogger("annotations-agreement")
	var err error
	suite.body, err = ioutil.ReadFile("testdata/bundle.json")
	require.NoError(suite.T(), err, "Unexpected error")
	suite.batch, err = ioutil.ReadFile("testdata/batch.json")
	require.NoError(suite.T(), err, "Unexpected error")

	s, err := schema.Load("schema/testdata/project.yaml")
	require.NoError(suite.T(), err, "Unexpected error")
	registry, err := s.Registry()
	require.NoError(suite.T(), err, "Unexpected error")

	metricsRegistry := metrics.NewRegistry()
	suite.store = curation.NewMemoryStore()
	suite.forwarder = new(forwarder.MockForwarder)
	curationService := curation.NewService(suite.store, curation.NewBuilder(curation.AllAnnotatorsAgree{}, metricsRegistry), registry, suite.log)

	suite.handler = httpHandler{
		registry:          registry,
		tagsets:           schema.NewTagsetCache(s),
		calculator:        agreement.NewCalculator(registry, agreement.MapLoader{}, suite.log, 2, metricsRegistry),
		curationService:   curationService,
		forwarder:         suite.forwarder,
		excludeIncomplete: true,
		measure:           agreement.FleissKappaName,
		originSystem:      originSystem,
		log:               suite.log,
	}
	suite.healthCheckHandler = healthCheckHandler{store: curationService}
}

func TestHttpHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HttpHandlerTestSuite))
}

func (suite *HttpHandlerTestSuite) serve(request *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router(&suite.handler, &suite.healthCheckHandler, suite.log).ServeHTTP(rec, request)
	return rec
}

func (suite *HttpHandlerTestSuite) TestPostDiff_Success() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/diff", knownDocument), "application/json", suite.body)
	rec := suite.serve(request)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Annotators []string   `json:"annotators"`
		Stats      diff.Stats `json:"stats"`
		Sets       []struct {
			Layer          string            `json:"layer"`
			Configurations []json.RawMessage `json:"configurations"`
		} `json:"sets"`
	}
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(suite.T(), []string{"alice", "bob"}, body.Annotators)
	assert.Equal(suite.T(), diff.Stats{Positions: 3, Agreeing: 2, Differing: 1}, body.Stats)
	require.Len(suite.T(), body.Sets, 3)
	assert.Equal(suite.T(), "NamedEntity", body.Sets[1].Layer)
	assert.Len(suite.T(), body.Sets[1].Configurations, 2, "alice and bob disagree on Bob")
}

func (suite *HttpHandlerTestSuite) TestPostDiff_UnknownType() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/diff?type=Token", knownDocument), "application/json", suite.body)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), "Token")
}

func (suite *HttpHandlerTestSuite) TestPostDiff_NotJson() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/diff", knownDocument), "text/html", suite.body)
	rec := suite.serve(request)
	assert.True(suite.T(), http.StatusBadRequest == rec.Code, fmt.Sprintf("Wrong response code, was %d, should be %d", rec.Code, http.StatusBadRequest))
}

func (suite *HttpHandlerTestSuite) TestPostDiff_ParseError() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/diff", knownDocument), "application/json", []byte(`{"documentId": "doc-1"}`))
	rec := suite.serve(request)
	assert.True(suite.T(), http.StatusBadRequest == rec.Code, fmt.Sprintf("Wrong response code, was %d, should be %d", rec.Code, http.StatusBadRequest))
}

func (suite *HttpHandlerTestSuite) TestPostDiff_DocumentMismatch() {
	request := newRequest("POST", "/documents/doc-2/diff", "application/json", suite.body)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	assert.JSONEq(suite.T(), message("documentId in the body does not match the path"), rec.Body.String())
}

func (suite *HttpHandlerTestSuite) TestPostAgreement_Success() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/agreement/NamedEntity/value?measure=percentage", knownDocument), "application/json", suite.body)
	rec := suite.serve(request)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Summary struct {
			Measure    string   `json:"measure"`
			Agreement  *float64 `json:"agreement"`
			UsedSets   int      `json:"usedSetCount"`
			Categories []string `json:"categories"`
		} `json:"summary"`
		Pairwise map[string]json.RawMessage `json:"pairwise"`
	}
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(suite.T(), agreement.PercentageAgreementName, body.Summary.Measure)
	require.NotNil(suite.T(), body.Summary.Agreement)
	assert.InDelta(suite.T(), 2.0/3.0, *body.Summary.Agreement, 1e-9)
	assert.Equal(suite.T(), 3, body.Summary.UsedSets)
	assert.Subset(suite.T(), body.Summary.Categories, []string{"PER", "ORG", "LOC", "MISC"})
}

func (suite *HttpHandlerTestSuite) TestPostAgreement_CSV() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/agreement/NamedEntity/value", knownDocument), "application/json", suite.body)
	request.Header.Add("Accept", "text/csv")
	rec := suite.serve(request)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(suite.T(), "text/csv; charset=UTF-8", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(suite.T(), lines, 4)
	assert.Equal(suite.T(), "Type,Collection,Document,Layer,Feature,Position,Flags,alice,bob", lines[0])
	assert.Contains(suite.T(), rec.Body.String(), "PER,ORG")
}

func (suite *HttpHandlerTestSuite) TestPostAgreement_UnknownMeasure() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/agreement/NamedEntity/value?measure=guesswork", knownDocument), "application/json", suite.body)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *HttpHandlerTestSuite) TestPostAgreement_InvalidExcludeIncomplete() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/agreement/NamedEntity/value?excludeIncomplete=maybe", knownDocument), "application/json", suite.body)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *HttpHandlerTestSuite) TestPostAgreement_AnnotatorWithoutAnnotations() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/agreement/NamedEntity/value?annotator=alice&annotator=carol&excludeIncomplete=false", knownDocument), "application/json", suite.body)
	rec := suite.serve(request)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Summary struct {
			Raters     []string `json:"raters"`
			Incomplete int      `json:"incompleteSetsByPosition"`
		} `json:"summary"`
	}
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(suite.T(), []string{"alice", "carol"}, body.Summary.Raters)
	assert.Equal(suite.T(), 3, body.Summary.Incomplete)
}

func (suite *HttpHandlerTestSuite) TestPostAgreement_DuplicateAnnotator() {
	request := newRequest("POST", fmt.Sprintf("/documents/%s/agreement/NamedEntity/value?annotator=alice&annotator=alice", knownDocument), "application/json", suite.body)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *HttpHandlerTestSuite) TestPostBatchAgreement_SkipsBrokenDocuments() {
	request := newRequest("POST", "/agreement/NamedEntity/value?measure=percentage", "application/json", suite.batch)
	rec := suite.serve(request)
	require.Equal(suite.T(), http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		SkippedCount int `json:"skippedCount"`
		Report       struct {
			Overall struct {
				Agreement *float64 `json:"agreement"`
			} `json:"overall"`
		} `json:"report"`
	}
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(suite.T(), 1, body.SkippedCount)
	require.NotNil(suite.T(), body.Report.Overall.Agreement)
	assert.InDelta(suite.T(), 0.5, *body.Report.Overall.Agreement, 1e-9)
}

func (suite *HttpHandlerTestSuite) TestPostBatchAgreement_DuplicateDocument() {
	batch := []byte(`{"documents": [
		{"collectionId": "news", "documentId": "doc-1", "annotations": {"alice": null}},
		{"collectionId": "news", "documentId": "doc-1", "annotations": {"alice": null}}
	]}`)
	request := newRequest("POST", "/agreement/NamedEntity", "application/json", batch)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *HttpHandlerTestSuite) TestPutCuration_Created() {
	suite.forwarder.On("SendMessage", "tid_sample", originSystem, mock.Anything, mock.AnythingOfType("forwarder.CurationEvent")).Return(nil).Once()
	request := newRequest("PUT", fmt.Sprintf("/documents/%s/curation/%s?template=alice", knownDocument, curator), "application/json", suite.body)
	request.Header.Add("X-Request-Id", "tid_sample")
	rec := suite.serve(request)
	require.True(suite.T(), http.StatusCreated == rec.Code, fmt.Sprintf("Wrong response code, was %d, should be %d", rec.Code, http.StatusCreated))

	var out struct {
		State   string              `json:"state"`
		Derived bool                `json:"derived"`
		Merge   curation.MergeStats `json:"merge"`
	}
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(suite.T(), "CREATED", out.State)
	assert.True(suite.T(), out.Derived)
	assert.Equal(suite.T(), "alice", out.Merge.Template)
	assert.Equal(suite.T(), 2, out.Merge.Kept)
	assert.Equal(suite.T(), 1, out.Merge.Rejected)

	request = newRequest("PUT", fmt.Sprintf("/documents/%s/curation/%s", knownDocument, curator), "application/json", suite.body)
	request.Header.Add("X-Request-Id", "tid_sample")
	rec = suite.serve(request)
	assert.True(suite.T(), http.StatusOK == rec.Code, fmt.Sprintf("Wrong response code, was %d, should be %d", rec.Code, http.StatusOK))
	suite.forwarder.AssertExpectations(suite.T())
	suite.forwarder.AssertNumberOfCalls(suite.T(), "SendMessage", 1)
}

func (suite *HttpHandlerTestSuite) TestPutCuration_ForwardFailed() {
	suite.forwarder.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("kafka down"))
	request := newRequest("PUT", fmt.Sprintf("/documents/%s/curation/%s", knownDocument, curator), "application/json", suite.body)
	rec := suite.serve(request)
	assert.True(suite.T(), http.StatusInternalServerError == rec.Code, fmt.Sprintf("Wrong response code, was %d, should be %d", rec.Code, http.StatusInternalServerError))
	assert.JSONEq(suite.T(), message("Failed to forward message to queue"), rec.Body.String())
}

func (suite *HttpHandlerTestSuite) TestPutCuration_TemplateNotFinished() {
	request := newRequest("PUT", fmt.Sprintf("/documents/%s/curation/%s?template=carol", knownDocument, curator), "application/json", suite.body)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	suite.forwarder.AssertNotCalled(suite.T(), "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *HttpHandlerTestSuite) TestPutCuration_NoForwarder() {
	suite.handler.forwarder = nil
	request := newRequest("PUT", fmt.Sprintf("/documents/%s/curation/%s", knownDocument, curator), "application/json", suite.body)
	rec := suite.serve(request)
	assert.Equal(suite.T(), http.StatusCreated, rec.Code)
}

func (suite *HttpHandlerTestSuite) TestRecreateCuration() {
	suite.forwarder.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	for i := 0; i < 2; i++ {
		request := newRequest("POST", fmt.Sprintf("/documents/%s/curation/%s/recreate", knownDocument, curator), "application/json", suite.body)
		rec := suite.serve(request)
		assert.Equal(suite.T(), http.StatusCreated, rec.Code, "recreate derives every time")
	}
	suite.forwarder.AssertNumberOfCalls(suite.T(), "SendMessage", 2)
}

func (suite *HttpHandlerTestSuite) TestGetCuration() {
	request := newRequest("GET", fmt.Sprintf("/documents/%s/curation/%s?collectionId=news", knownDocument, curator), "application/json", nil)
	rec := suite.serve(request)
	assert.True(suite.T(), http.StatusNotFound == rec.Code, fmt.Sprintf("Wrong response code, was %d, should be %d", rec.Code, http.StatusNotFound))

	suite.handler.forwarder = nil
	request = newRequest("PUT", fmt.Sprintf("/documents/%s/curation/%s", knownDocument, curator), "application/json", suite.body)
	require.Equal(suite.T(), http.StatusCreated, suite.serve(request).Code)

	request = newRequest("GET", fmt.Sprintf("/documents/%s/curation/%s?collectionId=news", knownDocument, curator), "application/json", nil)
	rec = suite.serve(request)
	require.Equal(suite.T(), http.StatusOK, rec.Code)
	var doc struct {
		Text        string            `json:"text"`
		Annotations []json.RawMessage `json:"annotations"`
	}
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(suite.T(), "Alice met Bob in Berlin.", doc.Text)
	assert.Len(suite.T(), doc.Annotations, 2)
}

func newRequest(method, url, contentType string, body []byte) *http.Request {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		panic(err)
	}
	req.Header.Add("Content-Type", contentType)
	return req
}

func message(errMsg string) string {
	return fmt.Sprintf("{\"message\": \"%s\"}\n", errMsg)
}
