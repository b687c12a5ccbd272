package statestore

import "errors"

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("statestore.unsupported_dialect")
	// ErrAuthTokenNotFound indicates no persisted auth token row exists.
	ErrAuthTokenNotFound = errors.New("statestore.auth_token.not_found")
	// ErrSettingNotFound indicates the requested setting key has never been written.
	ErrSettingNotFound = errors.New("statestore.setting.not_found")

	errEmptyDatabaseURL    = errors.New("statestore.empty_database_url")
	errSQLiteEmptyPath     = errors.New("statestore.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("statestore.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("statestore.unsupported_no_scheme")
)
