package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/threadwise/internal/models"
)

// BleveIndex implements MessageIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// messageDoc is the indexed projection of a message.
type messageDoc struct {
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Source    string `json:"source"`
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so names and slang match as typed.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("sender", textFieldMapping)
	docMapping.AddFieldMappingsAt("recipient", textFieldMapping)
	docMapping.AddFieldMappingsAt("source", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("message", docMapping)
	im.DefaultType = "message"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is reopened as is; remove the directory after a mapping change to rebuild it.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex creates an in-memory index, used when no index path is configured.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func toDoc(m *models.Message) messageDoc {
	return messageDoc{Content: m.Content, Sender: m.Sender, Recipient: m.Recipient, Source: m.Source}
}

// Index indexes a message by its ID.
func (b *BleveIndex) Index(ctx context.Context, msg *models.Message) error {
	return b.index.Index(msg.MessageID, toDoc(msg))
}

// IndexBatch indexes messages in a single Bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, msgs []*models.Message) error {
	batch := b.index.NewBatch()
	for _, m := range msgs {
		if m == nil || m.MessageID == "" {
			continue
		}
		if err := batch.Index(m.MessageID, toDoc(m)); err != nil {
			return fmt.Errorf("failed to batch message %s: %w", m.MessageID, err)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over content and participants and returns up to limit hits,
// best first. When opts.FuzzyEnabled is true each term is matched within the edit distance.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Hit, error) {
	fuzziness := 0
	if opts != nil && opts.FuzzyEnabled {
		fuzziness = 2
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var q blevequery.Query
	if fuzziness > 0 {
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		q = bleve.NewMatchQuery(query)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Hit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Hit{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery ORs a FuzzyQuery per query term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		return bleve.NewMatchQuery(queryStr)
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a message from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of messages in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Terms returns every indexed content and participant term with its document frequency.
func (b *BleveIndex) Terms() (map[string]int, error) {
	out := make(map[string]int)
	for _, field := range []string{"content", "sender", "recipient"} {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s terms: %w", field, err)
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if n := int(entry.Count); n > out[entry.Term] {
				out[entry.Term] = n
			}
		}
		_ = dict.Close()
	}
	return out, nil
}
