// Package manager implements the tree manager: task dispatch, interaction
// handling, the tree state machine and its maintenance routines. All reads
// and writes go through a tree.Runner so every operation runs in a single
// transaction.
package manager

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/arborworks/arbor/internal/config"
	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/hf"
)

// Rand is the randomness the dispatcher draws from. *math/rand.Rand
// satisfies it; tests inject a seeded source for reproducible draws.
type Rand interface {
	Float64() float64
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

// Enricher computes best-effort model outputs for stored messages.
// *hf.Client satisfies it.
type Enricher interface {
	Embedding(ctx context.Context, text string) ([]float64, error)
	Toxicity(ctx context.Context, text string) (*hf.ToxicityResult, error)
	EmbeddingModel() string
	ToxicityModel() string
}

// TreeManager orchestrates conversation trees end to end.
type TreeManager struct {
	runner   tree.Runner
	cfg      config.TreeManagerConfig
	debug    config.DebugConfig
	enricher Enricher
	tracer   trace.Tracer

	mu  sync.Mutex
	rng Rand

	// enrichWG tracks in-flight post-commit enrichment calls so tests and
	// shutdown can wait for them.
	enrichWG sync.WaitGroup
}

// Option configures a TreeManager.
type Option func(*TreeManager)

// WithRand replaces the randomness source.
func WithRand(r Rand) Option {
	return func(m *TreeManager) { m.rng = r }
}

// WithEnricher enables post-commit embedding and toxicity enrichment.
func WithEnricher(e Enricher) Option {
	return func(m *TreeManager) { m.enricher = e }
}

// WithTracer attaches a tracer for dispatch, handle and state spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *TreeManager) { m.tracer = t }
}

// WithDebug applies development switches that relax review exclusions and
// skip enrichment calls.
func WithDebug(d config.DebugConfig) Option {
	return func(m *TreeManager) { m.debug = d }
}

// New builds a TreeManager on the given runner and configuration.
func New(runner tree.Runner, cfg config.TreeManagerConfig, opts ...Option) *TreeManager {
	m := &TreeManager{
		runner: runner,
		cfg:    cfg,
		tracer: noop.NewTracerProvider().Tracer(""),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // G404: dispatch shaping, not crypto
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wait blocks until all in-flight enrichment calls have finished.
func (m *TreeManager) Wait() {
	m.enrichWG.Wait()
}

// UpsertUser registers or updates a worker account.
func (m *TreeManager) UpsertUser(ctx context.Context, u *tree.User) error {
	return m.runner.InTx(ctx, func(s tree.Store) error {
		return s.Users().Upsert(ctx, u)
	})
}

// DisableUser refuses the user further tasks and interactions.
func (m *TreeManager) DisableUser(ctx context.Context, userID uuid.UUID) error {
	return m.runner.InTx(ctx, func(s tree.Store) error {
		return s.Users().SetEnabled(ctx, userID, false, false)
	})
}

// requireEnabledUser loads the user and rejects disabled accounts.
func requireEnabledUser(ctx context.Context, s tree.Store, userID uuid.UUID) (*tree.User, error) {
	user, err := s.Users().ByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Enabled || user.Deleted {
		return nil, tree.ErrUserDisabled
	}
	return user, nil
}

// float64 and intn serialise access to the shared randomness source.
func (m *TreeManager) float64() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

func (m *TreeManager) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

func (m *TreeManager) shuffle(n int, swap func(i, j int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng.Shuffle(n, swap)
}
