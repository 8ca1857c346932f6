package curation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Financial-Times/annotations-agreement/cas"
	"github.com/Financial-Times/annotations-agreement/diff"
	"github.com/Financial-Times/neo-utils-go/neoutils"
	"github.com/jmcvetta/neoism"
	"github.com/pkg/errors"
)

const curationLabel = "CurationDocument"

// CypherStore keeps curation documents as nodes in Neo4j, one node per
// document and curator holding the serialized container.
type CypherStore struct {
	conn neoutils.NeoConnection
}

func NewCypherStore(conn neoutils.NeoConnection) *CypherStore {
	return &CypherStore{conn: conn}
}

// Initialise ensures the uniqueness constraint on the node key.
func (s *CypherStore) Initialise() error {
	return s.conn.EnsureConstraints(map[string]string{curationLabel: "key"})
}

func nodeKey(doc diff.DocumentRef, user string) string {
	return fmt.Sprintf("%s/%s/%s", doc.CollectionID, doc.DocumentID, user)
}

func (s *CypherStore) Read(doc diff.DocumentRef, user string) (*cas.Container, bool, error) {
	results := []struct {
		Content string `json:"content"`
	}{}
	query := &neoism.CypherQuery{
		Statement: fmt.Sprintf(`MATCH (c:%s{key:{key}}) RETURN c.content as content`, curationLabel),
		Parameters: neoism.Props{
			"key": nodeKey(doc, user),
		},
		Result: &results,
	}
	if err := s.conn.CypherBatch([]*neoism.CypherQuery{query}); err != nil {
		return nil, false, errors.Wrapf(err, "reading curation document of %s for %s", doc, user)
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	c := &cas.Container{}
	if err := json.Unmarshal([]byte(results[0].Content), c); err != nil {
		return nil, false, errors.Wrapf(err, "decoding curation document of %s for %s", doc, user)
	}
	return c, true, nil
}

func (s *CypherStore) Write(doc diff.DocumentRef, user string, c *cas.Container) error {
	content, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding curation document")
	}
	query := &neoism.CypherQuery{
		Statement: fmt.Sprintf(`MERGE (c:%s{key:{key}})
			SET c={props}`, curationLabel),
		Parameters: neoism.Props{
			"key": nodeKey(doc, user),
			"props": neoism.Props{
				"key":          nodeKey(doc, user),
				"collectionId": doc.CollectionID,
				"documentId":   doc.DocumentID,
				"user":         user,
				"content":      string(content),
				"updatedEpoch": time.Now().Unix(),
			},
		},
	}
	return s.conn.CypherBatch([]*neoism.CypherQuery{query})
}

func (s *CypherStore) Delete(doc diff.DocumentRef, user string) (bool, error) {
	query := &neoism.CypherQuery{
		Statement:    fmt.Sprintf(`MATCH (c:%s{key:{key}}) DELETE c`, curationLabel),
		Parameters:   neoism.Props{"key": nodeKey(doc, user)},
		IncludeStats: true,
	}
	if err := s.conn.CypherBatch([]*neoism.CypherQuery{query}); err != nil {
		return false, err
	}
	stats, err := query.Stats()
	if err != nil {
		return false, err
	}
	return stats.ContainsUpdates, nil
}

// Check runs a trivial query to test connectivity.
func (s *CypherStore) Check() error {
	results := []struct {
		ID int
	}{}
	query := &neoism.CypherQuery{
		Statement: "MATCH (x) RETURN ID(x) LIMIT 1",
		Result:    &results,
	}
	return s.conn.CypherBatch([]*neoism.CypherQuery{query})
}
