package registry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/relayagent/relay/pkg/models"
)

// Match is a tool returned from a semantic search with its similarity
// score against the query.
type Match struct {
	Tool  models.ToolDescriptor
	Score float64
}

// Semantic is an in-memory vector index over tool descriptions. It is
// safe for concurrent use. Until Index has completed at least once,
// IsReady reports false and Search returns an error; callers are
// expected to fall back to the static catalog.
type Semantic struct {
	embedder Embedder

	mu      sync.RWMutex
	tools   []models.ToolDescriptor
	vectors [][]float32
	ready   bool
}

// NewSemantic creates a semantic index backed by the given embedder.
func NewSemantic(embedder Embedder) *Semantic {
	return &Semantic{embedder: embedder}
}

// Index embeds the given tools and replaces the index contents. Tools
// are embedded from their name plus description so that exact name
// mentions in a query rank well.
func (s *Semantic) Index(ctx context.Context, tools []models.ToolDescriptor) error {
	if len(tools) == 0 {
		s.mu.Lock()
		s.tools = nil
		s.vectors = nil
		s.ready = true
		s.mu.Unlock()
		return nil
	}

	texts := make([]string, len(tools))
	for i, t := range tools {
		texts[i] = t.Name + ": " + t.Description
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("index tools: %w", err)
	}
	if len(vectors) != len(tools) {
		return fmt.Errorf("index tools: embedded %d of %d tools", len(vectors), len(tools))
	}

	s.mu.Lock()
	s.tools = append([]models.ToolDescriptor(nil), tools...)
	s.vectors = vectors
	s.ready = true
	s.mu.Unlock()
	return nil
}

// IsReady reports whether the index has been populated.
func (s *Semantic) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Search returns the topK tools most similar to the query, highest
// score first. Ties are broken by tool name so repeated searches with
// the same index contents return the same order.
func (s *Semantic) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	s.mu.RLock()
	ready := s.ready
	tools := s.tools
	vectors := s.vectors
	s.mu.RUnlock()

	if !ready {
		return nil, fmt.Errorf("semantic index not ready")
	}
	if len(tools) == 0 || topK <= 0 {
		return nil, nil
	}

	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches := make([]Match, 0, len(tools))
	for i, t := range tools {
		matches = append(matches, Match{Tool: t, Score: cosineSimilarity(qv, vectors[i])})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Tool.Name < matches[j].Tool.Name
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
