package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
)

// Store is an in-process repository.Store. A single mutex serializes every
// operation; WithTx holds it for the whole callback and restores a snapshot
// when the callback fails.
type Store struct {
	st   *state
	inTx bool
}

type state struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]model.Account
	clinics  map[uuid.UUID]model.Clinic
	tokens   map[uuid.UUID]model.AuthToken
	records  map[uuid.UUID]model.TestRecord
	resets   map[string]model.PasswordReset
}

func NewStore() *Store {
	return &Store{st: &state{
		accounts: make(map[uuid.UUID]model.Account),
		clinics:  make(map[uuid.UUID]model.Clinic),
		tokens:   make(map[uuid.UUID]model.AuthToken),
		records:  make(map[uuid.UUID]model.TestRecord),
		resets:   make(map[string]model.PasswordReset),
	}}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.st.mu.Lock()
	return s.st.mu.Unlock
}

func (s *Store) Accounts() repository.AccountRepository             { return &accountRepo{s} }
func (s *Store) Clinics() repository.ClinicRepository               { return &clinicRepo{s} }
func (s *Store) Tokens() repository.TokenRepository                 { return &tokenRepo{s} }
func (s *Store) TestRecords() repository.TestRecordRepository       { return &testRecordRepo{s} }
func (s *Store) PasswordResets() repository.PasswordResetRepository { return &passwordResetRepo{s} }

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	snap := s.st.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.st.restore(snap)
		}
	}()

	if err := fn(&Store{st: s.st, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

type snapshot struct {
	accounts map[uuid.UUID]model.Account
	clinics  map[uuid.UUID]model.Clinic
	tokens   map[uuid.UUID]model.AuthToken
	records  map[uuid.UUID]model.TestRecord
	resets   map[string]model.PasswordReset
}

func (st *state) snapshot() snapshot {
	return snapshot{
		accounts: copyMap(st.accounts),
		clinics:  copyMap(st.clinics),
		tokens:   copyMap(st.tokens),
		records:  copyMap(st.records),
		resets:   copyMap(st.resets),
	}
}

func (st *state) restore(s snapshot) {
	st.accounts = s.accounts
	st.clinics = s.clinics
	st.tokens = s.tokens
	st.records = s.records
	st.resets = s.resets
}

// copyMap is shallow; stored values are never mutated in place.
func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func paginate[T any](items []T, p model.Pagination) model.Page[T] {
	page := model.Page[T]{Total: len(items), Items: []T{}}
	start := p.Offset()
	if start >= len(items) {
		return page
	}
	end := start + p.PerPage
	if end > len(items) || p.PerPage <= 0 {
		end = len(items)
	}
	page.Items = items[start:end]
	return page
}

func newestFirst[T any](items []T, created func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool {
		return created(items[i]) > created(items[j])
	})
}
