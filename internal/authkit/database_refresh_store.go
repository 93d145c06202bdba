package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("token_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("token_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("token_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("token_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("token_store.unsupported_no_scheme")
)

// DatabaseRefreshTokenStore persists session refresh tokens using GORM.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driverLabel
}

type sessionRefreshTokenRecord struct {
	SessionID     string `gorm:"column:session_id;primaryKey"`
	RefreshToken  string `gorm:"column:refresh_token;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (sessionRefreshTokenRecord) TableName() string {
	return "session_refresh_tokens"
}

// NewDatabaseRefreshTokenStore constructs a GORM-backed store and migrates its table.
func NewDatabaseRefreshTokenStore(ctx context.Context, databaseURL string) (*DatabaseRefreshTokenStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("token_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("token_store.open.%s: %w", driverLabel, openErr)
	}
	store := &DatabaseRefreshTokenStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionRefreshTokenRecord{}); migrateErr != nil {
		_ = store.Close()
		return nil, fmt.Errorf("token_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (store *DatabaseRefreshTokenStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("token_store.close.%s: %w", store.driverLabel, err)
	}
	if closeErr := sqlDB.Close(); closeErr != nil {
		return fmt.Errorf("token_store.close.%s: %w", store.driverLabel, closeErr)
	}
	return nil
}

// Load returns the refresh token stored for the session.
func (store *DatabaseRefreshTokenStore) Load(ctx context.Context, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("token_store.load.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
	}
	var record sessionRefreshTokenRecord
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("token_store.load.%s: %w", store.driverLabel, ErrRefreshTokenNotFound)
		}
		return "", fmt.Errorf("token_store.load.%s: %w", store.driverLabel, err)
	}
	return record.RefreshToken, nil
}

// Save upserts the refresh token for the session.
func (store *DatabaseRefreshTokenStore) Save(ctx context.Context, sessionID string, refreshToken string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("token_store.save.%s: %w", store.driverLabel, ErrEmptySessionID)
	}
	if strings.TrimSpace(refreshToken) == "" {
		return fmt.Errorf("token_store.save.%s: %w", store.driverLabel, ErrRefreshTokenEmpty)
	}
	record := sessionRefreshTokenRecord{
		SessionID:     sessionID,
		RefreshToken:  refreshToken,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"refresh_token", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("token_store.save.%s: %w", store.driverLabel, err)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("token_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("token_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("token_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("token_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
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
