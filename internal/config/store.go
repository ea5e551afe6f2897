package config

import (
	"context"
	"sync"
	"time"
)

// Store provides the runtime configuration consumed by the pipeline and the
// model router. Both reads are cacheable; see CachedStore.
type Store interface {
	PipelineConfig(ctx context.Context) (PipelineConfig, error)
	MultiModelConfig(ctx context.Context) (MultiModelConfig, error)
}

// StaticStore serves a fixed configuration. It backs deployments without an
// admin-managed runtime store and is the default for tests.
type StaticStore struct {
	Pipeline PipelineConfig
	Multi    MultiModelConfig
}

// NewStaticStore builds a StaticStore from a loaded Config.
func NewStaticStore(cfg *Config) *StaticStore {
	return &StaticStore{
		Pipeline: cfg.Pipeline,
		Multi:    cfg.MultiModel,
	}
}

func (s *StaticStore) PipelineConfig(ctx context.Context) (PipelineConfig, error) {
	return s.Pipeline, nil
}

func (s *StaticStore) MultiModelConfig(ctx context.Context) (MultiModelConfig, error) {
	return s.Multi, nil
}

// CachedStore decorates a Store with a short TTL cache so per-request
// resolution does not hit configuration storage every time. Concurrent
// refreshes race last-write-wins; recomputing is idempotent and cheap, so
// no coordination beyond the mutex guarding the cached values is needed.
type CachedStore struct {
	inner Store
	ttl   time.Duration

	mu             sync.RWMutex
	pipeline       PipelineConfig
	pipelineAt     time.Time
	pipelineLoaded bool
	multi          MultiModelConfig
	multiAt        time.Time
	multiLoaded    bool
	clock          func() time.Time
}

// DefaultConfigTTL is how long resolved configuration stays fresh.
const DefaultConfigTTL = 60 * time.Second

// NewCachedStore wraps inner with a TTL cache. A non-positive ttl uses
// DefaultConfigTTL.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultConfigTTL
	}
	return &CachedStore{
		inner: inner,
		ttl:   ttl,
		clock: time.Now,
	}
}

func (s *CachedStore) PipelineConfig(ctx context.Context) (PipelineConfig, error) {
	s.mu.RLock()
	if !s.pipelineAt.IsZero() && s.clock().Sub(s.pipelineAt) < s.ttl {
		cfg := s.pipeline
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	cfg, err := s.inner.PipelineConfig(ctx)
	if err != nil {
		// Serve stale configuration over failing the request.
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.pipelineLoaded {
			return s.pipeline, nil
		}
		return PipelineConfig{}, err
	}

	s.mu.Lock()
	s.pipeline = cfg
	s.pipelineAt = s.clock()
	s.pipelineLoaded = true
	s.mu.Unlock()
	return cfg, nil
}

func (s *CachedStore) MultiModelConfig(ctx context.Context) (MultiModelConfig, error) {
	s.mu.RLock()
	if !s.multiAt.IsZero() && s.clock().Sub(s.multiAt) < s.ttl {
		cfg := s.multi
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	cfg, err := s.inner.MultiModelConfig(ctx)
	if err != nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.multiLoaded {
			return s.multi, nil
		}
		return MultiModelConfig{}, err
	}

	s.mu.Lock()
	s.multi = cfg
	s.multiAt = s.clock()
	s.multiLoaded = true
	s.mu.Unlock()
	return cfg, nil
}

// Invalidate marks the cached values stale, forcing the next read
// through. The values themselves are retained so a failing refresh can
// still serve the last good snapshot.
func (s *CachedStore) Invalidate() {
	s.mu.Lock()
	s.pipelineAt = time.Time{}
	s.multiAt = time.Time{}
	s.mu.Unlock()
}
