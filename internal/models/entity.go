// Package models defines the data types exchanged with the chat server and
// the rows stored in the local settings database.
package models

import "strings"

// Data types served by the data endpoints. Personas are characters flagged
// is_user_persona and are listed separately.
const (
	TypeCharacter = "character"
	TypePersona   = "persona"
	TypePreset    = "preset"
	TypeWorldInfo = "world_info"
	TypeGroup     = "group"
)

// DataTypes lists every paginated data type.
var DataTypes = []string{TypeCharacter, TypePersona, TypePreset, TypeWorldInfo, TypeGroup}

// SingularType maps a display_order key ("characters", "world_info") to
// its data type.
func SingularType(orderKey string) string {
	return strings.TrimSuffix(orderKey, "s")
}

// Entity is one library item (character, persona, preset, world info
// book, group). Its shape is owned by the server; the client only depends
// on a few identity fields.
type Entity map[string]any

func (e Entity) str(key string) string {
	if v, ok := e[key].(string); ok {
		return v
	}
	return ""
}

// Name returns the item's name field.
func (e Entity) Name() string { return e.str("name") }

// Filename returns the item's identity key, falling back to its name.
func (e Entity) Filename() string {
	if f := e.str("filename"); f != "" {
		return f
	}
	return e.Name()
}

// DisplayName returns the label shown to users, falling back to the name.
func (e Entity) DisplayName() string {
	if d := e.str("displayName"); d != "" {
		return d
	}
	return e.Name()
}

// IsUserPersona reports whether a character is flagged as a user persona.
func (e Entity) IsUserPersona() bool {
	v, _ := e["is_user_persona"].(bool)
	return v
}

// IsPublic reports whether the item came from the shared public library.
func (e Entity) IsPublic() bool {
	v, _ := e["is_public"].(bool)
	return v
}

// Normalize fills filename and displayName from name when missing and
// returns a copy; the receiver is not modified.
func (e Entity) Normalize() Entity {
	out := make(Entity, len(e)+2)
	for k, v := range e {
		out[k] = v
	}
	if out.str("filename") == "" && e.Name() != "" {
		out["filename"] = e.Name()
	}
	if out.str("displayName") == "" && e.Name() != "" {
		out["displayName"] = e.Name()
	}
	return out
}

// Page is one page of a paginated listing.
type Page struct {
	Items       []Entity `json:"items"`
	TotalItems  int      `json:"total_items"`
	TotalPages  int      `json:"total_pages"`
	CurrentPage int      `json:"current_page"`
}

// EmptyPage is the page returned for anonymous users.
func EmptyPage(page int) *Page {
	return &Page{Items: []Entity{}, TotalItems: 0, TotalPages: 1, CurrentPage: page}
}

// SavedEntity is the server's reply to a create or update.
type SavedEntity struct {
	Filename string `json:"filename"`
	Data     Entity `json:"data"`
}
