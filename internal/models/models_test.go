package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

func TestSetting_Fields(t *testing.T) {
	typ := reflect.TypeOf(Setting{})
	if tag := gormTag(t, typ, "Key"); !strings.Contains(tag, "primaryKey") {
		t.Errorf("Setting.Key gorm tag = %q, want primaryKey", tag)
	}
	if tag := gormTag(t, typ, "Value"); !strings.Contains(tag, "type:text") {
		t.Errorf("Setting.Value gorm tag = %q, want type:text", tag)
	}
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

func TestEntity_Fallbacks(t *testing.T) {
	e := Entity{"name": "Alice"}
	if e.Filename() != "Alice" {
		t.Errorf("Filename() = %q, want %q", e.Filename(), "Alice")
	}
	if e.DisplayName() != "Alice" {
		t.Errorf("DisplayName() = %q, want %q", e.DisplayName(), "Alice")
	}

	e = Entity{"name": "Alice", "filename": "alice.png", "displayName": "Alice A."}
	if e.Filename() != "alice.png" {
		t.Errorf("Filename() = %q, want %q", e.Filename(), "alice.png")
	}
	if e.DisplayName() != "Alice A." {
		t.Errorf("DisplayName() = %q, want %q", e.DisplayName(), "Alice A.")
	}
}

func TestEntity_NormalizeCopies(t *testing.T) {
	e := Entity{"name": "Bob"}
	n := e.Normalize()
	if n["filename"] != "Bob" || n["displayName"] != "Bob" {
		t.Errorf("Normalize() = %v, want filename and displayName set", n)
	}
	if _, ok := e["filename"]; ok {
		t.Error("Normalize modified the receiver")
	}
}

func TestSingularType(t *testing.T) {
	tests := map[string]string{
		"characters": TypeCharacter,
		"personas":   TypePersona,
		"presets":    TypePreset,
		"world_info": TypeWorldInfo,
		"groups":     TypeGroup,
	}
	for in, want := range tests {
		if got := SingularType(in); got != want {
			t.Errorf("SingularType(%q) = %q, want %q", in, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// UserConfig
// ---------------------------------------------------------------------------

func TestUserConfig_PreservesUnknownFields(t *testing.T) {
	in := `{"active_character":"Alice","max_tokens":2048,"regex_rules":[{"find":"a"}],"api_keys":["k1"]}`
	var cfg UserConfig
	if err := json.Unmarshal([]byte(in), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.ActiveCharacter != "Alice" {
		t.Errorf("ActiveCharacter = %q, want %q", cfg.ActiveCharacter, "Alice")
	}
	if _, ok := cfg.Extra["regex_rules"]; !ok {
		t.Error("regex_rules missing from Extra")
	}
	if _, ok := cfg.Extra["active_character"]; ok {
		t.Error("typed key active_character leaked into Extra")
	}

	cfg.MaxTokens = 1024
	out, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if back["max_tokens"] != float64(1024) {
		t.Errorf("max_tokens = %v, want 1024", back["max_tokens"])
	}
	if _, ok := back["api_keys"]; !ok {
		t.Error("api_keys dropped on marshal")
	}
}

func TestUserConfig_CloneIsDeep(t *testing.T) {
	cfg := &UserConfig{DeletedPublicItems: []string{"character:a"}}
	clone, err := cfg.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	clone.DeletedPublicItems[0] = "changed"
	if cfg.DeletedPublicItems[0] != "character:a" {
		t.Error("Clone shares the tombstone slice")
	}
}

func TestUserConfig_Tombstones(t *testing.T) {
	cfg := &UserConfig{}
	if !cfg.AddTombstone(TypeCharacter, "alice.png") {
		t.Fatal("AddTombstone returned false for new item")
	}
	if cfg.AddTombstone(TypeCharacter, "alice.png") {
		t.Error("AddTombstone returned true for duplicate")
	}
	if !cfg.IsTombstoned(TypeCharacter, "alice.png") {
		t.Error("IsTombstoned = false after add")
	}
	if cfg.DeletedPublicItems[0] != "character:alice.png" {
		t.Errorf("tombstone = %q, want %q", cfg.DeletedPublicItems[0], "character:alice.png")
	}
	if n := cfg.RemoveTombstones("character:alice.png", "preset:x"); n != 1 {
		t.Errorf("RemoveTombstones = %d, want 1", n)
	}
	if cfg.IsTombstoned(TypeCharacter, "alice.png") {
		t.Error("IsTombstoned = true after remove")
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func TestAnonymousBootstrap(t *testing.T) {
	b := AnonymousBootstrap()
	if b.UserConfig.ActiveCharacter != "Assistant" {
		t.Errorf("ActiveCharacter = %q, want %q", b.UserConfig.ActiveCharacter, "Assistant")
	}
	if b.UserConfig.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", b.UserConfig.MaxTokens)
	}
	if len(b.InitialSessions) != 0 || len(b.PublicCharacters) != 0 {
		t.Error("anonymous snapshot should have empty collections")
	}
	if b.SystemStatus.ModelIsReady {
		t.Error("ModelIsReady = true, want false")
	}
	if _, ok := b.UserConfig.Extra["tts_voice_assignments"]; !ok {
		t.Error("tts_voice_assignments missing")
	}
}

func TestBootstrap_PublicSplitsPersonas(t *testing.T) {
	b := &Bootstrap{PublicCharacters: map[string]Entity{
		"a": {"name": "A"},
		"p": {"name": "P", "is_user_persona": true},
	}}
	if got := len(b.Public(TypeCharacter)); got != 1 {
		t.Errorf("characters = %d, want 1", got)
	}
	if _, ok := b.Public(TypePersona)["p"]; !ok {
		t.Error("persona p missing from personas")
	}
}

// ---------------------------------------------------------------------------
// ChatMessage
// ---------------------------------------------------------------------------

func TestChatMessage_VisibleContent(t *testing.T) {
	m := ChatMessage{Content: "primary", Alternatives: []string{"alt0", "alt1"}}
	if m.VisibleContent() != "primary" {
		t.Errorf("VisibleContent() = %q, want primary", m.VisibleContent())
	}
	m.SetActiveIndex(1)
	if m.VisibleContent() != "alt1" {
		t.Errorf("VisibleContent() = %q, want alt1", m.VisibleContent())
	}
	m.SetActiveIndex(-1)
	if m.VisibleContent() != "primary" {
		t.Errorf("VisibleContent() = %q, want primary", m.VisibleContent())
	}
}

func TestStripIDs(t *testing.T) {
	h := []ChatMessage{{ID: "1", Role: RoleUser, Content: "hi"}}
	out := StripIDs(h)
	if out[0].ID != "" {
		t.Errorf("ID = %q, want empty", out[0].ID)
	}
	if h[0].ID != "1" {
		t.Error("StripIDs modified input")
	}
	data, _ := json.Marshal(out[0])
	if strings.Contains(string(data), `"id"`) {
		t.Errorf("serialized message contains id: %s", data)
	}
}

func TestTask_ErrorText(t *testing.T) {
	task := Task{Error: json.RawMessage(`"boom"`)}
	if task.ErrorText() != "boom" {
		t.Errorf("ErrorText() = %q, want boom", task.ErrorText())
	}
	task.Error = json.RawMessage(`{"code":1}`)
	if task.ErrorText() != `{"code":1}` {
		t.Errorf("ErrorText() = %q", task.ErrorText())
	}
	task.Result = json.RawMessage(`{"image_url":"http://x/y.png"}`)
	if task.ResultField("image_url") != "http://x/y.png" {
		t.Errorf("ResultField = %q", task.ResultField("image_url"))
	}
	if !TaskSuccess.IsTerminal() || TaskProcessing.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}
