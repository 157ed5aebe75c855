// Package storetest is the behavioural suite every docstore backend runs.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) docstore.Store

type entry struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Completed bool    `json:"completed"`
}

func entryGen() *rapid.Generator[entry] {
	return rapid.Custom(func(t *rapid.T) entry {
		return entry{
			Name:      rapid.StringMatching(`[A-Za-zА-Яа-я0-9 ]{1,24}`).Draw(t, "name"),
			Quantity:  float64(rapid.IntRange(0, 1000).Draw(t, "quantity")),
			Completed: rapid.Bool().Draw(t, "completed"),
		}
	})
}

func collectionGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		uid := rapid.StringMatching(`[A-Za-z0-9]{6,28}`).Draw(t, "uid")
		return "users/" + uid + "/shoppingItems"
	})
}

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AddThenListRoundTrips", func(t *testing.T) {
		store := newStore(t)
		rapid.Check(t, func(rt *rapid.T) {
			coll := collectionGen().Draw(rt, "collection") + "-" + docstore.NewID()
			entries := rapid.SliceOfN(entryGen(), 1, 8).Draw(rt, "entries")

			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				doc, err := store.Add(context.Background(), coll, e)
				if err != nil {
					rt.Fatalf("Add: %v", err)
				}
				if doc.ID == "" {
					rt.Fatal("Add returned empty id")
				}
				ids = append(ids, doc.ID)
			}

			docs, err := store.List(context.Background(), coll)
			if err != nil {
				rt.Fatalf("List: %v", err)
			}
			if len(docs) != len(entries) {
				rt.Fatalf("List returned %d docs, want %d", len(docs), len(entries))
			}
			for i, doc := range docs {
				if doc.ID != ids[i] {
					rt.Fatalf("doc %d id = %q, want %q (insertion order)", i, doc.ID, ids[i])
				}
				var got entry
				if err := doc.Decode(&got); err != nil {
					rt.Fatalf("Decode: %v", err)
				}
				if got != entries[i] {
					rt.Fatalf("doc %d = %+v, want %+v", i, got, entries[i])
				}
			}
		})
	})

	t.Run("IdsAreUnique", func(t *testing.T) {
		store := newStore(t)
		coll := "users/unique/shoppingItems"
		seen := map[string]bool{}
		for i := 0; i < 50; i++ {
			doc, err := store.Add(context.Background(), coll, entry{Name: "x"})
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			if seen[doc.ID] {
				t.Fatalf("duplicate id %q", doc.ID)
			}
			seen[doc.ID] = true
		}
	})

	t.Run("UpdateMergesTopLevelKeys", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		coll := "users/u1/shoppingItems"
		doc, err := store.Add(ctx, coll, map[string]any{"name": "Milk", "quantity": 2, "completed": false})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := store.Update(ctx, coll, doc.ID, map[string]any{"completed": true}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		docs, err := store.List(ctx, coll)
		if err != nil || len(docs) != 1 {
			t.Fatalf("List: %v (%d docs)", err, len(docs))
		}
		var got entry
		if err := docs[0].Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != (entry{Name: "Milk", Quantity: 2, Completed: true}) {
			t.Fatalf("merged doc = %+v", got)
		}
	})

	t.Run("UpdateMissingIsNotFound", func(t *testing.T) {
		store := newStore(t)
		err := store.Update(context.Background(), "users/u1/shoppingItems", "nope", map[string]any{"completed": true})
		if !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("Update missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteRemovesAndMissingIsNoop", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		coll := "users/u1/shoppingItems"
		a, _ := store.Add(ctx, coll, entry{Name: "a"})
		b, _ := store.Add(ctx, coll, entry{Name: "b"})

		if err := store.Delete(ctx, coll, a.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := store.Delete(ctx, coll, a.ID); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		if err := store.Delete(ctx, coll, "never-existed"); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
		docs, err := store.List(ctx, coll)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(docs) != 1 || docs[0].ID != b.ID {
			t.Fatalf("remaining docs = %+v", docs)
		}
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		a := "users/alice/shoppingItems"
		b := "users/bob/shoppingItems"
		doc, _ := store.Add(ctx, a, entry{Name: "alice item"})

		docs, err := store.List(ctx, b)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(docs) != 0 {
			t.Fatalf("bob sees %d docs", len(docs))
		}
		if err := store.Update(ctx, b, doc.ID, map[string]any{"name": "stolen"}); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("cross-collection Update = %v, want ErrNotFound", err)
		}
		if err := store.Delete(ctx, b, doc.ID); err != nil {
			t.Fatalf("cross-collection Delete: %v", err)
		}
		docs, _ = store.List(ctx, a)
		if len(docs) != 1 {
			t.Fatalf("alice's doc removed through bob's collection")
		}
	})

	t.Run("CreateThenGetByID", func(t *testing.T) {
		store := newStore(t)
		rapid.Check(t, func(rt *rapid.T) {
			ctx := context.Background()
			coll := "shareLinks"
			id := rapid.StringMatching(`[A-Za-z0-9_-]{6}`).Draw(rt, "id") + docstore.NewID()[:4]
			e := entryGen().Draw(rt, "entry")

			created, err := store.Create(ctx, coll, id, e)
			if err != nil {
				rt.Fatalf("Create: %v", err)
			}
			if created.ID != id {
				rt.Fatalf("Create id = %q, want %q", created.ID, id)
			}
			got, err := store.Get(ctx, coll, id)
			if err != nil {
				rt.Fatalf("Get: %v", err)
			}
			var decoded entry
			if err := got.Decode(&decoded); err != nil {
				rt.Fatalf("Decode: %v", err)
			}
			if decoded != e {
				rt.Fatalf("Get = %+v, want %+v", decoded, e)
			}
		})
	})

	t.Run("CreateTakenIDIsExists", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		coll := "shareLinks"
		if _, err := store.Create(ctx, coll, "abc123", entry{Name: "first"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := store.Create(ctx, coll, "abc123", entry{Name: "second"}); !errors.Is(err, docstore.ErrExists) {
			t.Fatalf("second Create = %v, want ErrExists", err)
		}
		doc, err := store.Get(ctx, coll, "abc123")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		var got entry
		_ = doc.Decode(&got)
		if got.Name != "first" {
			t.Fatalf("taken id overwritten: %+v", got)
		}
		if _, err := store.Create(ctx, "users/u1/shoppingItems", "abc123", entry{Name: "elsewhere"}); err != nil {
			t.Fatalf("same id in another collection: %v", err)
		}
	})

	t.Run("GetMissingIsNotFound", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		if _, err := store.Get(ctx, "shareLinks", "nope"); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("Get missing = %v, want ErrNotFound", err)
		}
		doc, _ := store.Add(ctx, "users/alice/shoppingItems", entry{Name: "a"})
		if _, err := store.Get(ctx, "users/bob/shoppingItems", doc.ID); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("cross-collection Get = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListEmptyCollection", func(t *testing.T) {
		store := newStore(t)
		docs, err := store.List(context.Background(), "users/nobody/shoppingItems")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(docs) != 0 {
			t.Fatalf("expected empty list, got %d", len(docs))
		}
	})

	t.Run("RejectsInvalidPaths", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for _, p := range []string{"", "users/u1", "users//shoppingItems", "users/u1/shoppingItems/"} {
			if _, err := store.Add(ctx, p, entry{Name: "x"}); !errors.Is(err, docstore.ErrInvalidPath) {
				t.Fatalf("Add(%q) = %v, want ErrInvalidPath", p, err)
			}
			if _, err := store.List(ctx, p); !errors.Is(err, docstore.ErrInvalidPath) {
				t.Fatalf("List(%q) = %v, want ErrInvalidPath", p, err)
			}
		}
		if err := store.Delete(ctx, "users/u1/shoppingItems", "a/b"); !errors.Is(err, docstore.ErrInvalidPath) {
			t.Fatalf("Delete with slash id = %v", err)
		}
	})

	t.Run("RejectsNonObjectBodies", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		coll := "users/u1/shoppingItems"
		for _, body := range []any{42, "milk", []string{"a"}, json.RawMessage(`null`)} {
			if _, err := store.Add(ctx, coll, body); !errors.Is(err, docstore.ErrNotObject) {
				t.Fatalf("Add(%v) = %v, want ErrNotObject", body, err)
			}
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		store := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := store.List(ctx, "users/u1/shoppingItems"); err == nil {
			t.Fatal("List with canceled context succeeded")
		}
	})
}
