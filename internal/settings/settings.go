// Package settings persists small client-side key/value settings, such as
// the logged-in user id, in the local sqlite database.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/novelsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known keys.
const (
	KeyUserID        = "user_id"
	KeyVoiceMode     = "voice_mode"
	KeyLastCharacter = "last_character"
)

// Store reads and writes settings rows.
type Store struct {
	db *gorm.DB
}

// New creates a Store over a migrated database.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("settings: db is required")
	}
	return &Store{db: db}, nil
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var row models.Setting
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return row.Value, true, nil
}

// Set upserts key.
func (s *Store) Set(key, value string) error {
	row := models.Setting{Key: key, Value: value}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("settings: set %s: %w", key, result.Error)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("settings: delete %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes a JSON value into target. It reports false if absent.
func (s *Store) GetJSON(key string, target any) (bool, error) {
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		return false, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value encoded as JSON.
func (s *Store) SetJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

// UserID returns the stored user id, or "" when nobody is logged in.
func (s *Store) UserID() (string, error) {
	v, _, err := s.Get(KeyUserID)
	return v, err
}

// SetUserID records the logged-in user.
func (s *Store) SetUserID(id string) error {
	if id == "" {
		return fmt.Errorf("settings: user id is required")
	}
	return s.Set(KeyUserID, id)
}

// ClearUserID logs the user out locally.
func (s *Store) ClearUserID() error {
	return s.Delete(KeyUserID)
}

// VoiceMode reports whether spoken replies are enabled.
func (s *Store) VoiceMode() (bool, error) {
	var on bool
	_, err := s.GetJSON(KeyVoiceMode, &on)
	return on, err
}

// SetVoiceMode toggles spoken replies.
func (s *Store) SetVoiceMode(on bool) error {
	return s.SetJSON(KeyVoiceMode, on)
}
