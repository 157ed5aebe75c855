package shopping

import (
	"context"
	"errors"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/obs"
)

// ErrItemNotFound is returned when an item id does not exist.
var ErrItemNotFound = errs.New(errs.NotFound, "item not found")

// Repository persists one user's items.
type Repository interface {
	Create(ctx context.Context, uid string, fields ItemFields, createdAt time.Time) (Item, error)
	List(ctx context.Context, uid string) ([]Item, error)
	// Update applies a partial update. A missing id is ErrItemNotFound.
	Update(ctx context.Context, uid, id string, patch ItemPatch) error
	// Delete removes the item. A missing id is not an error.
	Delete(ctx context.Context, uid, id string) error
}

// DocRepository stores items in the users/<uid>/shoppingItems collection
// of a document store.
type DocRepository struct {
	store docstore.Store
}

// NewDocRepository creates a repository over store.
func NewDocRepository(store docstore.Store) *DocRepository {
	return &DocRepository{store: store}
}

func collectionFor(uid string) (string, error) {
	if err := docstore.ValidateID(uid); err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "invalid user", err)
	}
	path := CollectionPath(uid)
	if err := docstore.ValidateCollection(path); err != nil {
		return "", errs.Wrap(errs.InvalidArgument, "invalid user", err)
	}
	return path, nil
}

func (r *DocRepository) Create(ctx context.Context, uid string, fields ItemFields, createdAt time.Time) (Item, error) {
	path, err := collectionFor(uid)
	if err != nil {
		return Item{}, err
	}
	doc, err := r.store.Add(ctx, path, document{
		Name:      fields.Name,
		Quantity:  fields.Quantity,
		Completed: fields.Completed,
		CreatedAt: createdAt,
		Category:  fields.Category,
		Notes:     fields.Notes,
	})
	if err != nil {
		obs.From(ctx).Error("item_create_failed", "pkg", "shopping", "uid", uid, "error", err)
		return Item{}, errs.Wrap(errs.Internal, "failed to add item", err)
	}
	return Item{
		ID:        doc.ID,
		Name:      fields.Name,
		Quantity:  fields.Quantity,
		Completed: fields.Completed,
		CreatedAt: createdAt,
		Category:  fields.Category,
		Notes:     fields.Notes,
	}, nil
}

func (r *DocRepository) List(ctx context.Context, uid string) ([]Item, error) {
	path, err := collectionFor(uid)
	if err != nil {
		return nil, err
	}
	docs, err := r.store.List(ctx, path)
	if err != nil {
		obs.From(ctx).Error("item_list_failed", "pkg", "shopping", "uid", uid, "error", err)
		return nil, errs.Wrap(errs.Internal, "failed to load items", err)
	}
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		var stored document
		if err := d.Decode(&stored); err != nil {
			obs.From(ctx).Warn("item_decode_failed", "pkg", "shopping", "uid", uid, "id", d.ID, "error", err)
			continue
		}
		items = append(items, Item{
			ID:        d.ID,
			Name:      stored.Name,
			Quantity:  stored.Quantity,
			Completed: stored.Completed,
			CreatedAt: stored.CreatedAt,
			Category:  stored.Category,
			Notes:     stored.Notes,
		})
	}
	return items, nil
}

func (r *DocRepository) Update(ctx context.Context, uid, id string, patch ItemPatch) error {
	path, err := collectionFor(uid)
	if err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid item id", err)
	}
	if err := r.store.Update(ctx, path, id, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrItemNotFound
		}
		obs.From(ctx).Error("item_update_failed", "pkg", "shopping", "uid", uid, "id", id, "error", err)
		return errs.Wrap(errs.Internal, "failed to update item", err)
	}
	return nil
}

func (r *DocRepository) Delete(ctx context.Context, uid, id string) error {
	path, err := collectionFor(uid)
	if err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid item id", err)
	}
	if err := r.store.Delete(ctx, path, id); err != nil {
		obs.From(ctx).Error("item_delete_failed", "pkg", "shopping", "uid", uid, "id", id, "error", err)
		return errs.Wrap(errs.Internal, "failed to delete item", err)
	}
	return nil
}
