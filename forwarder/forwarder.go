package forwarder

import (
	"encoding/json"
	"time"

	"github.com/Financial-Times/annotations-agreement/curation"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/Financial-Times/kafka-client-go/kafka"

	"github.com/twinj/uuid"
)

const curationReadyMessageType = "curation-ready"

// CurationEvent announces that the curation document of a document exists.
type CurationEvent struct {
	Document    diff.DocumentRef     `json:"document"`
	Curator     string               `json:"curator"`
	State       curation.State       `json:"state"`
	FullyAgreed bool                 `json:"fullyAgreed"`
	Merge       *curation.MergeStats `json:"merge,omitempty"`
	Diff        *diff.Stats          `json:"diff,omitempty"`
}

// NewCurationEvent builds the event for a curation outcome.
func NewCurationEvent(doc diff.DocumentRef, curator string, out curation.Outcome) CurationEvent {
	e := CurationEvent{Document: doc, Curator: curator, State: out.State, Merge: out.Merge, Diff: out.Diff}
	if out.Diff != nil {
		e.FullyAgreed = out.Diff.Agreeing == out.Diff.Positions
	}
	return e
}

type QueueForwarder interface {
	SendMessage(transactionID string, originSystem string, headers map[string]string, event CurationEvent) error
}

type Forwarder struct {
	Producer    kafka.Producer
	MessageType string
}

func (f Forwarder) SendMessage(transactionID string, originSystem string, headers map[string]string, event CurationEvent) error {
	if headers == nil {
		headers = f.CreateHeaders(transactionID, originSystem)
	}
	body, err := f.marshalEvent(event)
	if err != nil {
		return err
	}

	return f.Producer.SendMessage(kafka.NewFTMessage(headers, body))
}

func (f Forwarder) CreateHeaders(transactionID string, originSystem string) map[string]string {
	const dateFormat = "2006-01-02T03:04:05.000Z0700"
	return map[string]string{
		"X-Request-Id":      transactionID,
		"Message-Timestamp": time.Now().Format(dateFormat),
		"Message-Id":        uuid.NewV4().String(),
		"Message-Type":      curationReadyMessageType,
		"Content-Type":      "application/json",
		"Origin-System-Id":  originSystem,
	}
}

func (f Forwarder) marshalEvent(event CurationEvent) (string, error) {
	msg := map[string]interface{}{
		"documentId":  event.Document.DocumentID,
		f.MessageType: event,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	return string(body), nil
}
