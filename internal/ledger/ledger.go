// Package ledger records which service members have already been posted.
//
// Identities move through two states. SelectUnposted reserves a pick so that
// it counts as present for the rest of the run; Add confirms it once the post
// succeeds. Only confirmed identities reach the Store, so a crash between the
// two leaves the record eligible again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/metrics"
)

// ErrNoCandidates is returned when selection is asked to choose from nothing.
var ErrNoCandidates = errors.New("no candidates to select from")

// Store persists the confirmed identity set.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, ids []string) error
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithRand sets the random source used by SelectUnposted.
func WithRand(r *rand.Rand) Option {
	return func(l *Ledger) { l.rng = r }
}

// Ledger is the in-memory identity set backed by a Store.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	hasher    fallen.Hasher
	logger    *zap.Logger
	rng       *rand.Rand
	confirmed map[fallen.Identity]struct{}
	reserved  map[fallen.Identity]struct{}
}

// Open loads the ledger from store. A store that cannot be read yields an
// empty ledger.
func Open(ctx context.Context, store Store, hasher fallen.Hasher, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:     store,
		hasher:    hasher,
		logger:    logger,
		confirmed: make(map[fallen.Identity]struct{}),
		reserved:  make(map[fallen.Identity]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	ids, err := store.Load(ctx)
	if err != nil {
		logger.Warn("Ledger unreadable, starting empty", zap.Error(err))
		return l
	}
	for _, id := range ids {
		if id != "" {
			l.confirmed[fallen.Identity(id)] = struct{}{}
		}
	}
	logger.Debug("Ledger loaded", zap.Int("posted", len(l.confirmed)))
	return l
}

// Contains reports whether id is confirmed or reserved.
func (l *Ledger) Contains(id fallen.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.containsLocked(id)
}

func (l *Ledger) containsLocked(id fallen.Identity) bool {
	if _, ok := l.confirmed[id]; ok {
		return true
	}
	_, ok := l.reserved[id]
	return ok
}

// Len counts confirmed and reserved identities.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.confirmed) + len(l.reserved)
}

// Add confirms id and persists the set.
func (l *Ledger) Add(ctx context.Context, id fallen.Identity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, id)
	l.confirmed[id] = struct{}{}
	return l.persistLocked(ctx)
}

// Release drops a reservation made by SelectUnposted. Confirmed identities
// are unaffected.
func (l *Ledger) Release(id fallen.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reserved, id)
}

// Reset empties the ledger and persists the empty set.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resetLocked(ctx)
}

func (l *Ledger) resetLocked(ctx context.Context) error {
	l.confirmed = make(map[fallen.Identity]struct{})
	l.reserved = make(map[fallen.Identity]struct{})
	metrics.ObserveLedgerReset()
	l.logger.Info("Ledger reset")
	return l.persistLocked(ctx)
}

// Unposted returns the candidates not in the ledger. When every candidate is
// already present the ledger is reset and all candidates are returned, with
// reset set to true.
func (l *Ledger) Unposted(ctx context.Context, candidates []fallen.BriefRecord) (unposted []fallen.BriefRecord, reset bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, _, reset, err := l.unpostedLocked(ctx, candidates)
	return records, reset, err
}

func (l *Ledger) unpostedLocked(ctx context.Context, candidates []fallen.BriefRecord) ([]fallen.BriefRecord, []fallen.Identity, bool, error) {
	records := make([]fallen.BriefRecord, 0, len(candidates))
	ids := make([]fallen.Identity, 0, len(candidates))
	all := make([]fallen.Identity, 0, len(candidates))
	for _, c := range candidates {
		id, err := fallen.Identify(l.hasher, c)
		if err != nil {
			return nil, nil, false, err
		}
		all = append(all, id)
		if l.containsLocked(id) {
			continue
		}
		records = append(records, c)
		ids = append(ids, id)
	}
	if len(records) > 0 || len(candidates) == 0 {
		return records, ids, false, nil
	}

	l.logger.Info("Every candidate already posted, resetting ledger", zap.Int("candidates", len(candidates)))
	if err := l.resetLocked(ctx); err != nil {
		return nil, nil, true, err
	}
	return append([]fallen.BriefRecord(nil), candidates...), all, true, nil
}

// SelectUnposted picks one unposted candidate at random and reserves it. If
// every candidate is already present the ledger is reset first.
func (l *Ledger) SelectUnposted(ctx context.Context, candidates []fallen.BriefRecord) (fallen.BriefRecord, fallen.Identity, error) {
	if len(candidates) == 0 {
		return fallen.BriefRecord{}, "", ErrNoCandidates
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	records, ids, _, err := l.unpostedLocked(ctx, candidates)
	if err != nil {
		return fallen.BriefRecord{}, "", err
	}
	i := l.rng.IntN(len(records))
	l.reserved[ids[i]] = struct{}{}
	l.logger.Debug("Selected candidate",
		zap.String("name", records[i].Name),
		zap.Int("eligible", len(records)),
	)
	return records[i], ids[i], nil
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	ids := make([]string, 0, len(l.confirmed))
	for id := range l.confirmed {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	if err := l.store.Save(ctx, ids); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}
