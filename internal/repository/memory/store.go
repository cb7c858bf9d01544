// Package memory is an in-process Store used by service tests and local
// runs without Postgres. A unit of work operates on a copy of the state
// and swaps it in on commit, so a failed WithTx leaves nothing behind.
package memory

import (
	"context"
	"sync"

	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

// FailFunc is consulted before every write with the operation name, e.g.
// "postings.create". A non-nil return aborts that write.
type FailFunc func(op string) error

type state struct {
	users        map[int64]models.User
	accounts     map[int64]models.Account
	transactions map[int64]models.Transaction
	postings     []models.Posting
	audit        []models.AuditLog
	outbox       []models.OutboxMessage
	seq          map[string]int64
}

func newState() *state {
	return &state{
		users:        map[int64]models.User{},
		accounts:     map[int64]models.Account{},
		transactions: map[int64]models.Transaction{},
		seq:          map[string]int64{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.postings = append([]models.Posting(nil), s.postings...)
	c.audit = append([]models.AuditLog(nil), s.audit...)
	c.outbox = append([]models.OutboxMessage(nil), s.outbox...)
	return c
}

func (s *state) next(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

type Store struct {
	txMu sync.Mutex // serializes units of work and shared-connection writes
	mu   sync.Mutex // guards st
	st   *state
	fail FailFunc
}

func NewStore() *Store { return &Store{st: newState()} }

// FailOn installs fn as the write hook; nil clears it.
func (s *Store) FailOn(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *Store) Repos() repository.Repositories {
	return s.repos(&view{store: s, shared: true})
}

func (s *Store) WithTx(ctx context.Context, fn func(repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := s.st.clone()
	s.mu.Unlock()

	if err := fn(s.repos(&view{store: s, st: work})); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *Store) repos(v *view) repository.Repositories {
	return repository.Repositories{
		Users:        &usersRepo{v},
		Accounts:     &accountsRepo{v},
		Postings:     &postingsRepo{v},
		Transactions: &transactionsRepo{v},
		AuditLogs:    &auditLogsRepo{v},
		Outbox:       &outboxRepo{v},
	}
}

// view binds repositories either to the shared state or to one unit of
// work's private copy.
type view struct {
	store  *Store
	shared bool
	st     *state
}

func (v *view) read(fn func(st *state) error) error {
	if !v.shared {
		return fn(v.st)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.st)
}

func (v *view) write(op string, fn func(st *state) error) error {
	if v.shared {
		v.store.txMu.Lock()
		defer v.store.txMu.Unlock()
	}
	v.store.mu.Lock()
	hook := v.store.fail
	v.store.mu.Unlock()
	if hook != nil {
		if err := hook(op); err != nil {
			return err
		}
	}
	return v.read(fn)
}
