package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// UserConfig is the single per-user settings document. Fields the client
// reasons about are typed; everything else round-trips untouched through
// Extra so a full-document write never drops server-side fields.
type UserConfig struct {
	ActiveCharacter        string              `json:"active_character"`
	ActiveSessionID        *string             `json:"active_session_id"`
	UserPersona            string              `json:"user_persona"`
	Preset                 string              `json:"preset"`
	ActiveModules          map[string][]string `json:"active_modules"`
	MaxTokens              int                 `json:"max_tokens"`
	WorldInfo              []string            `json:"world_info"`
	DisplayOrder           map[string][]string `json:"display_order"`
	DeletedPublicItems     []string            `json:"deleted_public_items"`
	HasCompletedOnboarding bool                `json:"has_completed_onboarding"`

	Extra map[string]json.RawMessage `json:"-"`
}

// typed keys are excluded from Extra when decoding.
var userConfigKeys = []string{
	"active_character", "active_session_id", "user_persona", "preset",
	"active_modules", "max_tokens", "world_info", "display_order",
	"deleted_public_items", "has_completed_onboarding",
}

type userConfigFields UserConfig

// UnmarshalJSON decodes the typed fields and keeps the rest in Extra.
func (c *UserConfig) UnmarshalJSON(data []byte) error {
	var f userConfigFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range userConfigKeys {
		delete(raw, k)
	}
	*c = UserConfig(f)
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// MarshalJSON writes Extra first and the typed fields over it.
func (c UserConfig) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(userConfigFields(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return typed, nil
	}
	out := make(map[string]json.RawMessage, len(c.Extra)+len(userConfigKeys))
	for k, v := range c.Extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Clone returns a deep copy via a JSON round trip.
func (c *UserConfig) Clone() (*UserConfig, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("models: clone user config: %w", err)
	}
	var out UserConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("models: clone user config: %w", err)
	}
	return &out, nil
}

// SetExtra stores an opaque field such as regex_rules or api_keys.
func (c *UserConfig) SetExtra(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("models: set %s: %w", key, err)
	}
	if c.Extra == nil {
		c.Extra = make(map[string]json.RawMessage)
	}
	c.Extra[key] = data
	return nil
}

// TombstoneID is the deleted_public_items identifier for a public item.
// Personas share the character namespace.
func TombstoneID(dataType, filename string) string {
	if dataType == TypePersona {
		dataType = TypeCharacter
	}
	return dataType + ":" + filename
}

// IsTombstoned reports whether a public item is hidden for this user.
func (c *UserConfig) IsTombstoned(dataType, filename string) bool {
	return slices.Contains(c.DeletedPublicItems, TombstoneID(dataType, filename))
}

// AddTombstone hides a public item. It reports false if already hidden.
func (c *UserConfig) AddTombstone(dataType, filename string) bool {
	id := TombstoneID(dataType, filename)
	if slices.Contains(c.DeletedPublicItems, id) {
		return false
	}
	c.DeletedPublicItems = append(c.DeletedPublicItems, id)
	return true
}

// RemoveTombstones unhides the given items and reports how many were removed.
func (c *UserConfig) RemoveTombstones(ids ...string) int {
	before := len(c.DeletedPublicItems)
	c.DeletedPublicItems = slices.DeleteFunc(c.DeletedPublicItems, func(s string) bool {
		return slices.Contains(ids, s)
	})
	return before - len(c.DeletedPublicItems)
}
