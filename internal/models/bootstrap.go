package models

// SystemStatus reports model readiness on the server.
type SystemStatus struct {
	ModelIsReady   bool           `json:"model_is_ready"`
	APIKeyCount    int            `json:"api_key_count"`
	VerifiedModels []ModelDetails `json:"verified_models"`
}

// ModelDetails describes one verified model.
type ModelDetails struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

// UserInfo is the account profile shown in the client.
type UserInfo struct {
	UserID        string  `json:"user_id"`
	Username      string  `json:"username"`
	AccountNumber string  `json:"account_number"`
	Avatar        *string `json:"avatar,omitempty"`
}

// Bootstrap is the aggregated payload loaded once per user.
type Bootstrap struct {
	UserConfig       UserConfig        `json:"user_config"`
	SystemStatus     SystemStatus      `json:"system_status"`
	InitialSessions  []Session         `json:"initial_sessions"`
	PublicCharacters map[string]Entity `json:"public_characters"`
	PublicPresets    map[string]Entity `json:"public_presets"`
	PublicWorldInfo  map[string]Entity `json:"public_world_info"`
	PublicGroups     map[string]Entity `json:"public_groups"`
	UserInfo         *UserInfo         `json:"user_info,omitempty"`
}

// Public returns the public library map for a data type. Personas are
// public characters flagged is_user_persona.
func (b *Bootstrap) Public(dataType string) map[string]Entity {
	switch dataType {
	case TypeCharacter:
		return filterPublic(b.PublicCharacters, false)
	case TypePersona:
		return filterPublic(b.PublicCharacters, true)
	case TypePreset:
		return b.PublicPresets
	case TypeWorldInfo:
		return b.PublicWorldInfo
	case TypeGroup:
		return b.PublicGroups
	}
	return nil
}

func filterPublic(all map[string]Entity, personas bool) map[string]Entity {
	out := make(map[string]Entity)
	for k, e := range all {
		if e.IsUserPersona() == personas {
			out[k] = e
		}
	}
	return out
}

// AnonymousBootstrap returns the fixed snapshot served to a user who has
// not logged in. It never touches the network.
func AnonymousBootstrap() *Bootstrap {
	cfg := UserConfig{
		ActiveCharacter:        "Assistant",
		UserPersona:            "User",
		ActiveModules:          map[string][]string{},
		MaxTokens:              4096,
		WorldInfo:              []string{},
		DisplayOrder:           map[string][]string{},
		DeletedPublicItems:     []string{},
		HasCompletedOnboarding: true,
	}
	_ = cfg.SetExtra("regex_rules", []any{})
	_ = cfg.SetExtra("generation_profiles", map[string]any{})
	_ = cfg.SetExtra("api_keys", []any{})
	_ = cfg.SetExtra("tts_voice_assignments", map[string]string{
		"user":     "zh-CN-YunxiNeural",
		"char":     "zh-CN-XiaoxiaoNeural",
		"narrator": "zh-CN-YunyangNeural",
	})
	_ = cfg.SetExtra("tts_service_config", map[string]any{"active_service": "microsoft"})
	_ = cfg.SetExtra("llm_service_config", map[string]any{"active_provider": "google_gemini"})

	return &Bootstrap{
		UserConfig:       cfg,
		SystemStatus:     SystemStatus{VerifiedModels: []ModelDetails{}},
		InitialSessions:  []Session{},
		PublicCharacters: map[string]Entity{},
		PublicPresets:    map[string]Entity{},
		PublicWorldInfo:  map[string]Entity{},
		PublicGroups:     map[string]Entity{},
	}
}
