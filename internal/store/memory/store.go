// Package memory is an in-process store.Store. Transactions are serialised
// on one mutex and run against a copy of the state that is swapped in on
// success, so a failed callback leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type state struct {
	users         map[string]domain.User
	projects      map[string]domain.Project
	quotes        map[string]domain.Quote
	intents       map[string]domain.PaymentIntent
	payments      map[string]domain.Payment
	escrows       map[string]domain.EscrowAccount
	disputes      map[string]domain.Dispute
	withdrawals   map[string]domain.Withdrawal
	notifications map[string]domain.Notification
}

func newState() *state {
	return &state{
		users:         map[string]domain.User{},
		projects:      map[string]domain.Project{},
		quotes:        map[string]domain.Quote{},
		intents:       map[string]domain.PaymentIntent{},
		payments:      map[string]domain.Payment{},
		escrows:       map[string]domain.EscrowAccount{},
		disputes:      map[string]domain.Dispute{},
		withdrawals:   map[string]domain.Withdrawal{},
		notifications: map[string]domain.Notification{},
	}
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		users:         cloneMap(s.users),
		projects:      cloneMap(s.projects),
		quotes:        cloneMap(s.quotes),
		intents:       cloneMap(s.intents),
		payments:      cloneMap(s.payments),
		escrows:       cloneMap(s.escrows),
		disputes:      cloneMap(s.disputes),
		withdrawals:   cloneMap(s.withdrawals),
		notifications: cloneMap(s.notifications),
	}
}

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn with exclusive access. fn must not call back into s.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.st}).GetUser(ctx, id)
}

// PutUser mirrors a user from the identity provider.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// UpsertUser is PutUser with the store.UserMirror signature.
func (s *Store) UpsertUser(_ context.Context, u domain.User) error {
	s.PutUser(u)
	return nil
}

func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := store.Stats{
		Users:       len(s.st.users),
		Projects:    len(s.st.projects),
		Escrows:     map[string]int{},
		Withdrawals: map[string]int{},
		Held:        map[string]decimal.Decimal{},
	}
	for _, e := range s.st.escrows {
		out.Escrows[string(e.Status)]++
		if e.Status == domain.EscrowHeld || e.Status == domain.EscrowDisputed {
			out.Held[e.Currency] = out.Held[e.Currency].Add(e.GrossAmount)
		}
	}
	for _, w := range s.st.withdrawals {
		out.Withdrawals[string(w.Status)]++
	}
	return out, nil
}

// PutProject seeds a project as the web application would create it.
func (s *Store) PutProject(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.projects[p.ID] = p
}

// PutEscrow seeds an escrow row directly.
func (s *Store) PutEscrow(e domain.EscrowAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.escrows[e.ID] = e
}

// Inbox

func (s *Store) InsertNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.notifications[n.ID]; ok {
		return domain.ErrConflict.With("notification_id", n.ID)
	}
	s.st.notifications[n.ID] = n
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.st.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.st.notifications[id]
	if !ok || n.UserID != userID {
		return false, domain.ErrNotFound.With("notification_id", id)
	}
	if n.ReadAt != nil {
		return false, nil
	}
	n.ReadAt = &at
	s.st.notifications[id] = n
	return true, nil
}
