package shopping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type repoCall struct {
	Op    string
	ID    string
	Patch ItemPatch
}

// fakeRepo is an in-memory Repository that records calls and can be told
// to fail.
type fakeRepo struct {
	mu      sync.Mutex
	items   []Item
	calls   []repoCall
	nextID  int
	failOps map[string]error
	failIDs map[string]bool
	onCall  func(op string)
}

func newFakeRepo(items ...Item) *fakeRepo {
	return &fakeRepo{items: items, failOps: map[string]error{}, failIDs: map[string]bool{}}
}

func (r *fakeRepo) record(op, id string, patch ItemPatch) error {
	r.mu.Lock()
	r.calls = append(r.calls, repoCall{Op: op, ID: id, Patch: patch})
	err := r.failOps[op]
	if err == nil && r.failIDs[id] {
		err = fmt.Errorf("injected failure for %s", id)
	}
	hook := r.onCall
	r.mu.Unlock()
	if hook != nil {
		hook(op)
	}
	return err
}

func (r *fakeRepo) Calls() []repoCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repoCall(nil), r.calls...)
}

func (r *fakeRepo) Create(_ context.Context, _ string, f ItemFields, createdAt time.Time) (Item, error) {
	if err := r.record("create", "", ItemPatch{}); err != nil {
		return Item{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	it := Item{
		ID: fmt.Sprintf("doc-%d", r.nextID), Name: f.Name, Quantity: f.Quantity,
		Completed: f.Completed, CreatedAt: createdAt, Category: f.Category, Notes: f.Notes,
	}
	r.items = append(r.items, it)
	return it, nil
}

func (r *fakeRepo) List(context.Context, string) ([]Item, error) {
	if err := r.record("list", "", ItemPatch{}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Item(nil), r.items...), nil
}

func (r *fakeRepo) Update(_ context.Context, _ string, id string, patch ItemPatch) error {
	if err := r.record("update", id, patch); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i] = patch.Apply(r.items[i])
			return nil
		}
	}
	return ErrItemNotFound
}

func (r *fakeRepo) Delete(_ context.Context, _ string, id string) error {
	if err := r.record("delete", id, ItemPatch{}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			break
		}
	}
	return nil
}

var errBackend = errors.New("backend unavailable")
