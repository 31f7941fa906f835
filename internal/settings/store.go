// Package settings stores namespaced site configuration values.
package settings

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/cache"
	"habitat/server/internal/models"
)

const allSettingsKey = "settings:all"

//go:embed defaults.yaml
var defaultsYAML []byte

// Update is a partial change to one setting. A nil Value or Category leaves
// the stored one untouched.
type Update struct {
	Value    json.RawMessage `json:"value"`
	Category *string         `json:"category"`
}

type Store struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewStore builds a Store. A nil cache disables caching.
func NewStore(db *gorm.DB, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Store{db: db, cache: c, ttl: ttl, logger: logger}
}

// GetAll returns every setting keyed by name.
func (s *Store) GetAll(ctx context.Context) (map[string]models.SiteSetting, error) {
	if s.cache != nil {
		var cached map[string]models.SiteSetting
		ok, err := s.cache.Get(ctx, allSettingsKey, &cached)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read settings cache")
		} else if ok {
			return cached, nil
		}
	}

	var rows []models.SiteSetting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		s.logger.WithError(err).Error("Failed to load settings")
		return nil, apperror.Internal(err, "failed to load settings")
	}

	result := make(map[string]models.SiteSetting, len(rows))
	for _, row := range rows {
		result[row.Key] = row
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, allSettingsKey, result, s.ttl); err != nil {
			s.logger.WithError(err).Warn("Failed to write settings cache")
		}
	}
	return result, nil
}

// Text returns value.text of a setting, or "" when the key is missing or has
// no text.
func (s *Store) Text(ctx context.Context, key string) (string, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return "", err
	}
	setting, ok := all[key]
	if !ok || len(setting.Value) == 0 {
		return "", nil
	}

	var value struct {
		Text interface{} `json:"text"`
	}
	if err := json.Unmarshal(setting.Value, &value); err != nil {
		return "", nil
	}
	text, _ := value.Text.(string)
	return strings.TrimSpace(text), nil
}

// BulkUpdate upserts every entry of updates in one transaction and returns the
// full resulting settings map. Admin only.
func (s *Store) BulkUpdate(ctx context.Context, updates map[string]Update, caller auth.Caller) (map[string]models.SiteSetting, error) {
	user, err := auth.RequireRole(caller, auth.AdminOnly...)
	if err != nil {
		return nil, err
	}

	for key := range updates {
		if strings.TrimSpace(key) == "" {
			return nil, apperror.InvalidInput("setting key must not be empty")
		}
		if len(key) > 150 {
			return nil, apperror.InvalidInput("setting key is longer than 150 characters")
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, update := range updates {
			if err := upsert(tx, key, update); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			s.logger.WithError(err).Error("Failed to update settings")
		}
		return nil, err
	}

	s.invalidate(ctx)
	s.logger.WithFields(logrus.Fields{
		"count": len(updates),
		"user":  user.Username,
	}).Info("Updated site settings")

	return s.GetAll(ctx)
}

func upsert(tx *gorm.DB, key string, update Update) error {
	value, hasValue, err := coerce(update.Value)
	if err != nil {
		return apperror.InvalidInput("invalid value for %q: %v", key, err)
	}

	var setting models.SiteSetting
	err = tx.Where(keyIs(key)).Limit(1).Find(&setting).Error
	if err != nil {
		return apperror.Internal(err, "failed to load setting")
	}

	if setting.Key == "" {
		setting = models.SiteSetting{
			Key:      key,
			Value:    datatypes.JSON("{}"),
			Category: models.DefaultSettingCategory,
		}
		if hasValue {
			setting.Value = value
		}
		if update.Category != nil && strings.TrimSpace(*update.Category) != "" {
			setting.Category = strings.TrimSpace(*update.Category)
		}
		if err := tx.Create(&setting).Error; err != nil {
			return apperror.Internal(err, "failed to create setting")
		}
		return nil
	}

	changes := map[string]interface{}{}
	if hasValue {
		changes["value"] = value
	}
	if update.Category != nil && strings.TrimSpace(*update.Category) != "" {
		changes["category"] = strings.TrimSpace(*update.Category)
	}
	if len(changes) == 0 {
		return nil
	}
	if err := tx.Model(&models.SiteSetting{}).Where(keyIs(key)).Updates(changes).Error; err != nil {
		return apperror.Internal(err, "failed to update setting")
	}
	return nil
}

// keyIs matches a setting by key. The column is quoted since KEY is reserved
// in MySQL.
func keyIs(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

// coerce turns a raw JSON value into the stored object shape. Objects are kept
// as they are; anything else is wrapped as {"text": value}. Absent or null
// values report false.
func coerce(raw json.RawMessage) (datatypes.JSON, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}
	if !json.Valid(trimmed) {
		return nil, false, fmt.Errorf("malformed JSON")
	}
	if trimmed[0] == '{' {
		return datatypes.JSON(trimmed), true, nil
	}

	wrapped, err := json.Marshal(map[string]json.RawMessage{"text": trimmed})
	if err != nil {
		return nil, false, err
	}
	return datatypes.JSON(wrapped), true, nil
}

func (s *Store) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, allSettingsKey); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate settings cache")
	}
}

type seedEntry struct {
	Value    interface{} `yaml:"value"`
	Category string      `yaml:"category"`
}

// SeedDefaults inserts the bundled default settings that are not stored yet
// and returns how many were added. Existing keys are never overwritten.
func (s *Store) SeedDefaults(ctx context.Context) (int, error) {
	var defaults map[string]seedEntry
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return 0, fmt.Errorf("failed to parse default settings: %w", err)
	}

	added := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, entry := range defaults {
			var count int64
			if err := tx.Model(&models.SiteSetting{}).Where(keyIs(key)).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			raw, err := json.Marshal(entry.Value)
			if err != nil {
				return fmt.Errorf("failed to encode default %q: %w", key, err)
			}
			value, _, err := coerce(raw)
			if err != nil {
				return err
			}
			if value == nil {
				value = datatypes.JSON("{}")
			}
			category := entry.Category
			if category == "" {
				category = models.DefaultSettingCategory
			}

			if err := tx.Create(&models.SiteSetting{Key: key, Value: value, Category: category}).Error; err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed settings: %w", err)
	}

	if added > 0 {
		s.invalidate(ctx)
		s.logger.WithField("count", added).Info("Seeded default site settings")
	}
	return added, nil
}
