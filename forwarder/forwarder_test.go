package forwarder_test

import (
	"encoding/json"
	"testing"

	"github.com/Financial-Times/annotations-agreement/curation"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/Financial-Times/annotations-agreement/forwarder"

	"github.com/Financial-Times/kafka-client-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	p := new(mockProducer)
	f := forwarder.Forwarder{
		Producer:    p,
		MessageType: "curation",
	}

	doc := diff.DocumentRef{CollectionID: "project-1", DocumentID: "doc-1"}
	event := forwarder.NewCurationEvent(doc, "curation-user", curation.Outcome{
		State: curation.Created,
		Merge: &curation.MergeStats{Template: "alice", Strategy: curation.AllAnnotatorsAgreeName, Kept: 3, Rejected: 1},
		Diff:  &diff.Stats{Positions: 4, Agreeing: 3, Differing: 1},
	})
	assert.False(t, event.FullyAgreed)

	transationID := "example-transaction-id"
	originSystem := "http://cmdb.ft.com/systems/annotation-tool"
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{
			name:    "Create Kafka Message Headers",
			headers: nil,
		},
		{
			name: "Use Consumed Kafka Message Headers",
			headers: map[string]string{
				"X-Request-Id":      transationID,
				"Message-Timestamp": "2006-01-02T03:04:05.000Z",
				"Message-Id":        "07109c55-3870-4260-8f77-d242c1014e9f",
				"Message-Type":      "curation-ready",
				"Content-Type":      "application/json",
				"Origin-System-Id":  originSystem,
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := f.SendMessage(transationID, originSystem, test.headers, event)
			require.NoError(t, err, "Error sending message")

			res := p.getLastMessage()
			var body struct {
				DocumentID string                  `json:"documentId"`
				Curation   forwarderCurationFields `json:"curation"`
			}
			require.NoError(t, json.Unmarshal([]byte(res.Body), &body))
			assert.Equal(t, "doc-1", body.DocumentID)
			assert.Equal(t, "curation-user", body.Curation.Curator)
			assert.Equal(t, "CREATED", body.Curation.State)
			assert.Equal(t, 1, body.Curation.Merge.Rejected)

			assert.Equal(t, transationID, res.Headers["X-Request-Id"])
			assert.Equal(t, originSystem, res.Headers["Origin-System-Id"])
			assert.Equal(t, "curation-ready", res.Headers["Message-Type"])
			assert.NotEmpty(t, res.Headers["Message-Id"])
		})
	}
}

type forwarderCurationFields struct {
	Curator string `json:"curator"`
	State   string `json:"state"`
	Merge   struct {
		Rejected int `json:"rejected"`
	} `json:"merge"`
}

type mockProducer struct {
	message kafka.FTMessage
}

func (mp *mockProducer) SendMessage(message kafka.FTMessage) error {
	mp.message = message
	return nil
}

func (mp *mockProducer) getLastMessage() kafka.FTMessage {
	return mp.message
}

func (mp *mockProducer) ConnectivityCheck() error {
	return nil
}

func (mp *mockProducer) Shutdown() {
}
