// Package memory provides an in-memory Allocator for local development and
// tests. It mirrors the locking semantics of the Postgres repository: rows
// selected by an open transaction stay claimed until commit or rollback, and
// other transactions skip claimed rows instead of waiting.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ChiMaMe-bean/msj/internal/domain"
)

// Store keeps the account pool and activity records in process memory.
type Store struct {
	mu       sync.Mutex
	accounts []domain.Account
	records  []domain.ActivityRecord
	lockedBy map[int]*tx // account id -> root transaction holding the claim
	nextID   int
}

// NewStore constructs a Store seeded with the given accounts.
func NewStore(accounts ...domain.Account) *Store {
	s := &Store{
		lockedBy: make(map[int]*tx),
		nextID:   1,
	}
	s.accounts = append(s.accounts, accounts...)
	// Selections are oldest-first; keep the pool in id order.
	sort.Slice(s.accounts, func(i, j int) bool { return s.accounts[i].ID < s.accounts[j].ID })
	return s
}

// SeedRecords installs committed activity records, for tests that start from
// a partially consumed pool.
func (s *Store) SeedRecords(recs ...domain.ActivityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if rec.ID == 0 {
			rec.ID = s.nextID
			s.nextID++
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		s.records = append(s.records, rec)
	}
}

// Records returns a snapshot of all committed activity records.
func (s *Store) Records() []domain.ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActivityRecord, len(s.records))
	copy(out, s.records)
	return out
}

// CodeConflict implements domain.Allocator.
func (s *Store) CodeConflict(ctx context.Context, code string, day int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var helper, helped bool
	for _, rec := range s.records {
		if rec.HelpCode != code || rec.DayNumber != day {
			continue
		}
		switch rec.Role {
		case domain.RoleHelper:
			helper = true
		case domain.RoleHelped:
			helped = true
		}
	}
	return helper && helped, nil
}

// Begin implements domain.Allocator.
func (s *Store) Begin(ctx context.Context) (domain.AllocationTx, error) {
	t := &tx{store: s}
	t.root = t
	return t, nil
}

// tx stages writes until commit. Savepoint scopes are child transactions that
// merge into their parent on success; claims always belong to the root, since
// row locks survive a savepoint rollback.
type tx struct {
	store   *Store
	parent  *tx
	root    *tx
	pending []domain.ActivityRecord
	claims  []int
	done    bool
}

// visible returns committed records plus everything staged along the
// transaction chain. Callers must hold store.mu.
func (t *tx) visible() []domain.ActivityRecord {
	recs := append([]domain.ActivityRecord(nil), t.store.records...)
	for cur := t; cur != nil; cur = cur.parent {
		recs = append(recs, cur.pending...)
	}
	return recs
}

func (t *tx) claim(id int) {
	t.store.lockedBy[id] = t.root
	t.root.claims = append(t.root.claims, id)
}

// claimedElsewhere reports whether another root transaction holds id. A
// transaction never skips its own claims, matching row locks being reentrant
// within one database transaction.
func (t *tx) claimedElsewhere(id int) bool {
	owner, held := t.store.lockedBy[id]
	return held && owner != t.root
}

func (t *tx) SelectHelper(ctx context.Context, day int, code string) (*domain.Account, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	recs := t.visible()
	if codeAlreadyHelped(recs, code) {
		return nil, nil
	}
	for _, acct := range t.store.accounts {
		if t.claimedElsewhere(acct.ID) || playedRole(recs, acct.ID, day, domain.RoleHelper) {
			continue
		}
		t.claim(acct.ID)
		selected := acct
		return &selected, nil
	}
	return nil, nil
}

func (t *tx) SelectHelped(ctx context.Context, day int) (*domain.Account, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	recs := t.visible()
	for _, acct := range t.store.accounts {
		if t.claimedElsewhere(acct.ID) || playedRole(recs, acct.ID, day, domain.RoleHelped) {
			continue
		}
		t.claim(acct.ID)
		selected := acct
		return &selected, nil
	}
	return nil, nil
}

func (t *tx) SelectReturnCode(ctx context.Context, day int, excludeCode string) (string, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	recs := t.visible()
	for _, acct := range t.store.accounts {
		if acct.Code == excludeCode || playedRole(recs, acct.ID, day, domain.RoleHelped) {
			continue
		}
		return acct.Code, nil
	}
	return "", nil
}

func (t *tx) SaveRecord(ctx context.Context, rec *domain.ActivityRecord) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	t.pending = append(t.pending, *rec)
	return nil
}

func (t *tx) Nested(ctx context.Context, fn func(domain.AllocationTx) error) error {
	child := &tx{store: t.store, parent: t, root: t.root}
	if err := fn(child); err != nil {
		child.pending = nil
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.pending = append(t.pending, child.pending...)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true

	if t.parent != nil {
		t.parent.pending = append(t.parent.pending, t.pending...)
		return nil
	}
	for _, rec := range t.pending {
		rec.ID = t.store.nextID
		t.store.nextID++
		t.store.records = append(t.store.records, rec)
	}
	t.release()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true
	t.pending = nil
	if t.parent == nil {
		t.release()
	}
	return nil
}

// release drops the root's claims. Callers must hold store.mu.
func (t *tx) release() {
	for _, id := range t.root.claims {
		if t.store.lockedBy[id] == t.root {
			delete(t.store.lockedBy, id)
		}
	}
	t.root.claims = nil
}

func codeAlreadyHelped(recs []domain.ActivityRecord, code string) bool {
	for _, rec := range recs {
		if rec.HelpCode == code && rec.Role == domain.RoleHelped {
			return true
		}
	}
	return false
}

func playedRole(recs []domain.ActivityRecord, accountID, day int, role domain.Role) bool {
	for _, rec := range recs {
		if rec.AccountID == accountID && rec.DayNumber == day && rec.Role == role {
			return true
		}
	}
	return false
}
