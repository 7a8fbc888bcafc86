package index

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	core "github.com/mohammad-safakhou/scout/internal/agent/core"
)

// CandidateIndex is an in-memory full-text index over every candidate the
// service has discovered, rebuilt on startup from the store and kept
// current as sessions complete. It serves the discovery search endpoint.
type CandidateIndex struct {
	bleve bleve.Index
	meta  map[string]Hit
	mu    sync.RWMutex
}

// Hit is one search match.
type Hit struct {
	DiscoveryID string  `json:"discovery_id"`
	Query       string  `json:"query"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Bio         string  `json:"bio"`
	Category    string  `json:"category"`
	Location    string  `json:"location"`
	Score       float64 `json:"score"`
}

// candidateDoc is the indexed document shape.
type candidateDoc struct {
	Query       string `json:"query"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	Category    string `json:"category"`
	Location    string `json:"location"`
}

// New creates an empty in-memory index.
func New() (*CandidateIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve init: %w", err)
	}
	return &CandidateIndex{bleve: idx, meta: make(map[string]Hit)}, nil
}

// IndexDiscovery indexes every candidate of a completed discovery.
func (ci *CandidateIndex) IndexDiscovery(discoveryID, query string, candidates []core.Candidate) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for _, c := range candidates {
		docID := discoveryID + ":" + c.Username
		doc := candidateDoc{
			Query:       query,
			Username:    c.Username,
			DisplayName: c.DisplayName,
			Bio:         c.Bio,
			Category:    c.Category,
			Location:    c.Location,
		}
		if err := ci.bleve.Index(docID, doc); err != nil {
			return fmt.Errorf("index %s: %w", docID, err)
		}
		ci.meta[docID] = Hit{
			DiscoveryID: discoveryID,
			Query:       query,
			Username:    c.Username,
			DisplayName: c.DisplayName,
			Bio:         c.Bio,
			Category:    c.Category,
			Location:    c.Location,
		}
	}
	return nil
}

// Search runs a query-string search over indexed candidates.
func (ci *CandidateIndex) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 20
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := ci.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ci.mu.RLock()
	defer ci.mu.RUnlock()
	var out []Hit
	for _, match := range res.Hits {
		hit, ok := ci.meta[match.ID]
		if !ok {
			continue
		}
		hit.Score = match.Score
		out = append(out, hit)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Count returns how many candidate documents are indexed.
func (ci *CandidateIndex) Count() (uint64, error) {
	return ci.bleve.DocCount()
}
