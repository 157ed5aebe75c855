// Package snapshot publishes a read-only HTML copy of a shopping list to
// object storage so it can be shared by link.
package snapshot

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/errs"
	"github.com/Laboratorynotices/listsmart/internal/notes"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/s3client"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
)

//go:embed templates/list.html
var templateFS embed.FS

var listTemplate = template.Must(template.New("list.html").Funcs(template.FuncMap{
	"markdown": notes.Render,
	"quantity": FormatQuantity,
}).ParseFS(templateFS, "templates/list.html"))

// Uncategorized labels items without a category.
const Uncategorized = "Без категории"

// ObjectStore is the subset of s3client.Client the publisher needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string, opts ...s3client.PutOptions) error
	GetPublicURL(key string) string
}

// Publisher renders lists and uploads them.
type Publisher struct {
	store ObjectStore
	now   func() time.Time
}

// NewPublisher creates a publisher writing to store.
func NewPublisher(store ObjectStore) *Publisher {
	return &Publisher{store: store, now: time.Now}
}

// Group is the items of one category, in list order.
type Group struct {
	Category string
	Items    []shopping.Item
}

type pageData struct {
	Title       string
	Total       int
	Active      int
	Groups      []Group
	PublishedAt time.Time
}

// GroupByCategory groups items by category. Known categories come first
// in the given order, then unknown ones in order of first appearance, then
// uncategorized items.
func GroupByCategory(items []shopping.Item, categories []string) []Group {
	byName := make(map[string]*Group)
	var order []string
	add := func(name string) {
		if _, ok := byName[name]; !ok {
			byName[name] = &Group{Category: name}
			order = append(order, name)
		}
	}
	for _, c := range categories {
		add(c)
	}
	for _, it := range items {
		name := it.Category
		if name == "" {
			continue
		}
		add(name)
		byName[name].Items = append(byName[name].Items, it)
	}
	var none []shopping.Item
	for _, it := range items {
		if it.Category == "" {
			none = append(none, it)
		}
	}

	groups := make([]Group, 0, len(order)+1)
	for _, name := range order {
		if g := byName[name]; len(g.Items) > 0 {
			groups = append(groups, *g)
		}
	}
	if len(none) > 0 {
		groups = append(groups, Group{Category: Uncategorized, Items: none})
	}
	return groups
}

// FormatQuantity prints whole quantities without decimals.
func FormatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// Render returns the HTML page for items.
func Render(title string, items []shopping.Item, categories []string, at time.Time) ([]byte, error) {
	active := 0
	for _, it := range items {
		if !it.Completed {
			active++
		}
	}
	var buf bytes.Buffer
	err := listTemplate.Execute(&buf, pageData{
		Title:       title,
		Total:       len(items),
		Active:      active,
		Groups:      GroupByCategory(items, categories),
		PublishedAt: at.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Publish uploads a snapshot of items under a fresh unguessable key and
// returns its public URL.
func (p *Publisher) Publish(ctx context.Context, uid, title string, items []shopping.Item, categories []string) (string, error) {
	page, err := Render(title, items, categories, p.now())
	if err != nil {
		return "", errs.Wrap(errs.Internal, "failed to render list", err)
	}
	key := "lists/" + docstore.NewID() + ".html"
	err = p.store.PutObject(ctx, key, page, "text/html; charset=utf-8", s3client.PutOptions{CacheControl: "public, max-age=300"})
	if err != nil {
		obs.From(ctx).Error("snapshot_upload_failed", "pkg", "snapshot", "uid", uid, "key", key, "error", err)
		return "", errs.Wrap(errs.Unavailable, "failed to publish list", err)
	}
	url := p.store.GetPublicURL(key)
	obs.From(ctx).Info("snapshot_published", "pkg", "snapshot", "uid", uid, "key", key, "items", len(items))
	return url, nil
}
