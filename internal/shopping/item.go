// Package shopping holds the shopping-list domain: items, the per-user
// document collection they live in, and the Store that mirrors it.
package shopping

import (
	"math"
	"strings"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/errs"
)

// DefaultCategories seeds every Store. The set is not persisted.
var DefaultCategories = []string{"Продукты", "Бытовая химия", "Другое"}

// Item is one entry of a user's shopping list.
type Item struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Quantity  float64   `json:"quantity" yaml:"quantity"`
	Completed bool      `json:"completed" yaml:"completed"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	Category  string    `json:"category,omitempty" yaml:"category,omitempty"`
	Notes     string    `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ItemFields are the caller-supplied fields of a new item.
type ItemFields struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Completed bool    `json:"completed"`
	Category  string  `json:"category,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// ItemPatch is a partial update. Nil fields are left unchanged; the JSON
// encoding contains exactly the fields being set.
type ItemPatch struct {
	Name      *string  `json:"name,omitempty"`
	Quantity  *float64 `json:"quantity,omitempty"`
	Completed *bool    `json:"completed,omitempty"`
	Category  *string  `json:"category,omitempty"`
	Notes     *string  `json:"notes,omitempty"`
}

// document is the stored shape of an item; the id is the document key.
type document struct {
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
	Category  string    `json:"category,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// CollectionPath returns the document collection holding uid's items.
func CollectionPath(uid string) string {
	return "users/" + uid + "/shoppingItems"
}

// Normalize trims the free-text fields.
func (f ItemFields) Normalize() ItemFields {
	f.Name = strings.TrimSpace(f.Name)
	f.Category = strings.TrimSpace(f.Category)
	f.Notes = strings.TrimSpace(f.Notes)
	return f
}

// Validate checks the fields of a new item.
func (f ItemFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errs.New(errs.InvalidArgument, "name is required")
	}
	return validateQuantity(f.Quantity)
}

// IsEmpty reports whether the patch sets nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Name == nil && p.Quantity == nil && p.Completed == nil && p.Category == nil && p.Notes == nil
}

// Normalize trims the free-text fields the patch sets.
func (p ItemPatch) Normalize() ItemPatch {
	p.Name = trimmed(p.Name)
	p.Category = trimmed(p.Category)
	p.Notes = trimmed(p.Notes)
	return p
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

// Validate checks the fields the patch sets.
func (p ItemPatch) Validate() error {
	if p.IsEmpty() {
		return errs.New(errs.InvalidArgument, "nothing to update")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return errs.New(errs.InvalidArgument, "name is required")
	}
	if p.Quantity != nil {
		return validateQuantity(*p.Quantity)
	}
	return nil
}

func validateQuantity(q float64) error {
	if math.IsNaN(q) || math.IsInf(q, 0) || q < 0 {
		return errs.New(errs.InvalidArgument, "quantity must be a non-negative number")
	}
	return nil
}

// Apply returns item with the patch's fields overlaid.
func (p ItemPatch) Apply(item Item) Item {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.Completed != nil {
		item.Completed = *p.Completed
	}
	if p.Category != nil {
		item.Category = *p.Category
	}
	if p.Notes != nil {
		item.Notes = *p.Notes
	}
	return item
}
