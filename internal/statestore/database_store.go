package statestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mprlab/meeagent/internal/googleauth"
)

// DatabaseStore persists agent state using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// authTokenRecord is the single mirrored token row.
type authTokenRecord struct {
	RowID           int64  `gorm:"column:row_id;primaryKey"`
	AccessToken     string `gorm:"column:access_token;not null;default:''"`
	ExpiresAtUnixMS int64  `gorm:"column:expires_at_unix_ms;not null;default:0"`
	RefreshToken    string `gorm:"column:refresh_token;not null;default:''"`
	AccountEmail    string `gorm:"column:account_email;not null;default:''"`
}

func (authTokenRecord) TableName() string {
	return "auth_token"
}

type settingRecord struct {
	SettingKey   string `gorm:"column:setting_key;primaryKey"`
	SettingValue string `gorm:"column:setting_value;not null;default:''"`
}

func (settingRecord) TableName() string {
	return "settings"
}

type activityRecord struct {
	EntryID  string `gorm:"column:entry_id;primaryKey"`
	Title    string `gorm:"column:title;not null"`
	AtUnixMS int64  `gorm:"column:at_unix_ms;index;not null"`
}

func (activityRecord) TableName() string {
	return "activity_log"
}

// authTokenRowID pins the mirrored token to one row.
const authTokenRowID = 1

// NewDatabaseStore constructs a GORM-backed store from a sqlite:// or
// postgres:// URL.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("statestore.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("statestore.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&authTokenRecord{}, &settingRecord{}, &activityRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("statestore.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// SaveAuthToken upserts the mirrored token row.
func (store *DatabaseStore) SaveAuthToken(ctx context.Context, record googleauth.PersistedToken) error {
	row := authTokenRecord{
		RowID:           authTokenRowID,
		AccessToken:     record.AccessToken,
		ExpiresAtUnixMS: record.ExpiresAtUnixMS,
		RefreshToken:    record.RefreshToken,
		AccountEmail:    record.AccountEmail,
	}
	if err := store.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("statestore.auth_token.save.%s: %w", store.driverLabel, err)
	}
	return nil
}

// LoadAuthToken reads the mirrored token row.
func (store *DatabaseStore) LoadAuthToken(ctx context.Context) (googleauth.PersistedToken, error) {
	var row authTokenRecord
	err := store.db.WithContext(ctx).Where("row_id = ?", authTokenRowID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return googleauth.PersistedToken{}, fmt.Errorf("statestore.auth_token.load.%s: %w", store.driverLabel, ErrAuthTokenNotFound)
		}
		return googleauth.PersistedToken{}, fmt.Errorf("statestore.auth_token.load.%s: %w", store.driverLabel, err)
	}
	return googleauth.PersistedToken{
		AccessToken:     row.AccessToken,
		ExpiresAtUnixMS: row.ExpiresAtUnixMS,
		RefreshToken:    row.RefreshToken,
		AccountEmail:    row.AccountEmail,
	}, nil
}

// ClearAuthToken removes the mirrored row entirely, keeping the persisted
// format minimal.
func (store *DatabaseStore) ClearAuthToken(ctx context.Context) error {
	result := store.db.WithContext(ctx).Where("row_id = ?", authTokenRowID).Delete(&authTokenRecord{})
	if result.Error != nil {
		return fmt.Errorf("statestore.auth_token.clear.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// SaveSetting upserts a settings key.
func (store *DatabaseStore) SaveSetting(ctx context.Context, key string, value string) error {
	row := settingRecord{SettingKey: key, SettingValue: value}
	if err := store.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("statestore.setting.save.%s: %w", store.driverLabel, err)
	}
	return nil
}

// LoadSetting reads a settings key.
func (store *DatabaseStore) LoadSetting(ctx context.Context, key string) (string, error) {
	var row settingRecord
	err := store.db.WithContext(ctx).Where("setting_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("statestore.setting.load.%s: %w", store.driverLabel, ErrSettingNotFound)
		}
		return "", fmt.Errorf("statestore.setting.load.%s: %w", store.driverLabel, err)
	}
	return row.SettingValue, nil
}

// AppendActivity prepends an entry and trims the log to ActivityLimit.
func (store *DatabaseStore) AppendActivity(ctx context.Context, title string, at time.Time) error {
	row := activityRecord{
		EntryID:  uuid.NewString(),
		Title:    title,
		AtUnixMS: at.UnixMilli(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("statestore.activity.append.%s: %w", store.driverLabel, err)
	}

	var keepIDs []string
	selectErr := store.db.WithContext(ctx).
		Model(&activityRecord{}).
		Order("at_unix_ms DESC").
		Limit(ActivityLimit).
		Pluck("entry_id", &keepIDs).Error
	if selectErr != nil {
		return fmt.Errorf("statestore.activity.trim.%s: %w", store.driverLabel, selectErr)
	}
	trimErr := store.db.WithContext(ctx).
		Where("entry_id NOT IN ?", keepIDs).
		Delete(&activityRecord{}).Error
	if trimErr != nil {
		return fmt.Errorf("statestore.activity.trim.%s: %w", store.driverLabel, trimErr)
	}
	return nil
}

// RecentActivity lists the retained entries newest first.
func (store *DatabaseStore) RecentActivity(ctx context.Context) ([]ActivityEntry, error) {
	var rows []activityRecord
	err := store.db.WithContext(ctx).
		Order("at_unix_ms DESC").
		Limit(ActivityLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("statestore.activity.list.%s: %w", store.driverLabel, err)
	}
	entries := make([]ActivityEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ActivityEntry{
			ID:    row.EntryID,
			Title: row.Title,
			At:    time.UnixMilli(row.AtUnixMS).UTC(),
		})
	}
	return entries, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("statestore.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("statestore.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("statestore.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("statestore.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
