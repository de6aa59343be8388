// Package domain defines the core interfaces and types for cogsolver.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Application operations
	SaveApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, appID string) (*Application, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]*Application, error)

	// Rule operations
	SaveRule(ctx context.Context, rule *Rule) error
	// SaveRules stores all rules atomically.
	SaveRules(ctx context.Context, rules []*Rule) error
	SetRuleActive(ctx context.Context, ruleID string, active bool) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)

	// ListActiveRules returns active rules ordered by priority desc, name asc.
	ListActiveRules(ctx context.Context) ([]*Rule, error)

	// Reference data
	SaveStatus(ctx context.Context, status *Status) error
	GetStatus(ctx context.Context, statusID string) (*Status, error)
	ListStatuses(ctx context.Context) ([]*Status, error)
	SaveRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
