package library

import (
	"sort"

	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/query"
)

// Item is one entry of a merged listing.
type Item struct {
	Entity  models.Entity
	Type    string
	Private bool
}

// Filename returns the item's identity key.
func (it Item) Filename() string { return it.Entity.Filename() }

// pageTypes returns the paginated types whose private items appear in the
// listing of dataType. Characters and personas are shown together.
func pageTypes(dataType string) []string {
	if dataType == models.TypeCharacter {
		return []string{models.TypeCharacter, models.TypePersona}
	}
	return []string{dataType}
}

func (l *Library) cachedPrivate(dataType string) []Item {
	uid := l.userID()
	seen := make(map[string]bool)
	var out []Item
	for _, t := range pageTypes(dataType) {
		for _, e := range l.cache.Find(query.Key{PagesRoot, t, uid}) {
			page, ok := e.Value.(*models.Page)
			if !ok || page == nil {
				continue
			}
			for _, ent := range page.Items {
				fn := ent.Filename()
				if seen[fn] {
					continue
				}
				seen[fn] = true
				out = append(out, Item{Entity: ent, Type: t, Private: true})
			}
		}
	}
	return out
}

func publicOf(b *models.Bootstrap, dataType string) map[string]models.Entity {
	if dataType == models.TypeCharacter {
		return b.PublicCharacters
	}
	return b.Public(dataType)
}

// Merged returns the private items of dataType found in cached pages,
// followed by the public items that are neither overridden by a private
// item with the same filename nor hidden by the user. Public items are
// sorted by filename.
func (l *Library) Merged(dataType string) []Item {
	out := l.cachedPrivate(dataType)
	b, ok := l.CachedBootstrap()
	if !ok {
		return out
	}
	private := make(map[string]bool, len(out))
	for _, it := range out {
		private[it.Filename()] = true
	}
	for _, it := range l.publicItems(b, dataType) {
		if private[it.Filename()] || b.UserConfig.IsTombstoned(it.Type, it.Filename()) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Importable returns the public items of dataType the user has hidden.
func (l *Library) Importable(dataType string) []Item {
	b, ok := l.CachedBootstrap()
	if !ok {
		return nil
	}
	var out []Item
	for _, it := range l.publicItems(b, dataType) {
		if b.UserConfig.IsTombstoned(it.Type, it.Filename()) {
			out = append(out, it)
		}
	}
	return out
}

// Lookup finds an item by filename in the merged listing.
func (l *Library) Lookup(dataType, filename string) (Item, bool) {
	for _, it := range l.Merged(dataType) {
		if it.Filename() == filename {
			return it, true
		}
	}
	return Item{}, false
}

func (l *Library) publicItems(b *models.Bootstrap, dataType string) []Item {
	src := publicOf(b, dataType)
	out := make([]Item, 0, len(src))
	for key, e := range src {
		ent := e.Normalize()
		if ent.Filename() == "" {
			ent["filename"] = key
		}
		t := dataType
		if dataType == models.TypeCharacter && ent.IsUserPersona() {
			t = models.TypePersona
		}
		out = append(out, Item{Entity: ent, Type: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename() < out[j].Filename() })
	return out
}
