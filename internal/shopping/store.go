package shopping

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/obs"
)

// DefaultBatchLimit bounds concurrent deletes in ClearCompleted.
const DefaultBatchLimit = 8

// State is a point-in-time copy of a Store.
type State struct {
	Items      []Item   `json:"items"`
	Categories []string `json:"categories"`
	IsLoading  bool     `json:"isLoading"`
	Error      string   `json:"error,omitempty"`
}

// Store mirrors one user's shopping list in memory and applies actions to
// both the local list and the Repository.
//
// Actions never hold the lock across a remote call. A failed action records
// its message in Error; the message is overwritten by the next failure and
// not cleared by later successes.
type Store struct {
	repo       Repository
	uid        string
	now        func() time.Time
	batchLimit int

	mu         sync.Mutex
	items      []Item
	categories []string
	inFlight   int
	lastErr    string
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBatchLimit bounds the concurrency of ClearCompleted.
func WithBatchLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// NewStore creates an empty store for uid. Call RefreshFromRemote to load.
func NewStore(repo Repository, uid string, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		uid:        uid,
		now:        time.Now,
		batchLimit: DefaultBatchLimit,
		categories: slices.Clone(DefaultCategories),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UID returns the owner of the list.
func (s *Store) UID() string { return s.uid }

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Items:      slices.Clone(s.items),
		Categories: slices.Clone(s.categories),
		IsLoading:  s.inFlight > 0,
		Error:      s.lastErr,
	}
}

// Items returns a copy of the items in list order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Categories returns the category labels.
func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.categories)
}

// IsLoading reports whether a remote call is in flight.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

// Error returns the last failure message, or "".
func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// TotalItems returns the number of items.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ActiveItems returns the items not yet completed.
func (s *Store) ActiveItems() []Item {
	return s.where(func(it Item) bool { return !it.Completed })
}

// CompletedItems returns the completed items.
func (s *Store) CompletedItems() []Item {
	return s.where(func(it Item) bool { return it.Completed })
}

// ItemsByCategory returns the items whose category equals category.
func (s *Store) ItemsByCategory(category string) []Item {
	return s.where(func(it Item) bool { return it.Category == category })
}

// HasActiveItems reports whether any item is not completed.
func (s *Store) HasActiveItems() bool {
	return s.any(func(it Item) bool { return !it.Completed })
}

// HasCompletedItems reports whether any item is completed.
func (s *Store) HasCompletedItems() bool {
	return s.any(func(it Item) bool { return it.Completed })
}

func (s *Store) where(keep func(Item) bool) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s *Store) any(match func(Item) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.items, match)
}

// AddCategory adds a label for this session.
func (s *Store) AddCategory(name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		return s.failLocked(errs.New(errs.InvalidArgument, "category name is required"))
	}
	if slices.Contains(s.categories, name) {
		return s.failLocked(errs.New(errs.FailedPrecondition, "category already exists"))
	}
	s.categories = append(s.categories, name)
	return nil
}

// AddItem creates the item remotely, then appends it. Nothing is appended
// when the remote create fails.
func (s *Store) AddItem(ctx context.Context, fields ItemFields) (Item, error) {
	fields = fields.Normalize()
	if err := fields.Validate(); err != nil {
		return Item{}, s.fail(err)
	}

	done := s.begin()
	item, err := s.repo.Create(ctx, s.uid, fields, s.now().UTC())
	done()
	if err != nil {
		return Item{}, s.fail(err)
	}

	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return item, nil
}

// RemoveItem removes the item locally, then deletes it remotely. A remote
// failure is recorded but the local removal stands.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		err := s.failLocked(ErrItemNotFound)
		s.mu.Unlock()
		return err
	}
	s.items = slices.Delete(s.items, idx, idx+1)
	s.mu.Unlock()

	done := s.begin()
	err := s.repo.Delete(ctx, s.uid, id)
	done()
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// ToggleComplete flips completed locally, then writes only that field.
func (s *Store) ToggleComplete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		err := s.failLocked(ErrItemNotFound)
		s.mu.Unlock()
		return err
	}
	completed := !s.items[idx].Completed
	s.items[idx].Completed = completed
	s.mu.Unlock()

	done := s.begin()
	err := s.repo.Update(ctx, s.uid, id, ItemPatch{Completed: &completed})
	done()
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// UpdateItem merges patch locally, then writes exactly patch remotely.
func (s *Store) UpdateItem(ctx context.Context, id string, patch ItemPatch) error {
	patch = patch.Normalize()
	if err := patch.Validate(); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		err := s.failLocked(ErrItemNotFound)
		s.mu.Unlock()
		return err
	}
	s.items[idx] = patch.Apply(s.items[idx])
	s.mu.Unlock()

	done := s.begin()
	err := s.repo.Update(ctx, s.uid, id, patch)
	done()
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// RefreshFromRemote replaces the items with the remote list. On failure the
// current items are kept.
func (s *Store) RefreshFromRemote(ctx context.Context) error {
	done := s.begin()
	items, err := s.repo.List(ctx, s.uid)
	done()
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// ClearCompleted drops completed items locally, then deletes each one
// remotely with at most batchLimit deletes in flight. It waits for every
// delete and reports all failures together.
func (s *Store) ClearCompleted(ctx context.Context) error {
	s.mu.Lock()
	var completed []string
	active := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if it.Completed {
			completed = append(completed, it.ID)
		} else {
			active = append(active, it)
		}
	}
	s.items = active
	s.mu.Unlock()

	if len(completed) == 0 {
		return nil
	}

	done := s.begin()
	defer done()

	var (
		g        errgroup.Group
		failMu   sync.Mutex
		failures []error
	)
	g.SetLimit(s.batchLimit)
	for _, id := range completed {
		g.Go(func() error {
			if err := s.repo.Delete(ctx, s.uid, id); err != nil {
				obs.From(ctx).Warn("clear_completed_delete_failed", "pkg", "shopping", "uid", s.uid, "id", id, "error", err)
				failMu.Lock()
				failures = append(failures, fmt.Errorf("delete %s: %w", id, err))
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return nil
	}
	msg := fmt.Sprintf("failed to delete %d of %d completed items", len(failures), len(completed))
	return s.fail(errs.Wrap(errs.Internal, msg, errors.Join(failures...)))
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(it Item) bool { return it.ID == id })
}

func (s *Store) begin() func() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(err)
}

func (s *Store) failLocked(err error) error {
	s.lastErr = errs.MessageOf(err)
	return err
}
