// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/cogsolver/internal/domain"
)

// batchSize caps the number of IN placeholders per detail query.
const batchSize = 500

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and runs pending migrations.
func New(ctx context.Context, cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", domain.ErrInvalidInput, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pool settings only apply to postgres. SQLite keeps the single
	// long-lived connection openSQLite configured.
	if cfg.Driver == "postgres" {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if err := Migrate(db, cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}

	return NewWithDB(db, cfg.Driver), nil
}

// NewWithDB wraps an already migrated connection.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

// DB exposes the underlying connection pool.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// SaveApplication inserts or replaces an application with its windows and roles.
func (r *SQLRepository) SaveApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.ID == "" {
		return fmt.Errorf("%w: application ID is required", domain.ErrInvalidInput)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO applications (
				id, title, description, submitted_at, participant_count, status_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				participant_count = excluded.participant_count,
				status_id = excluded.status_id
		`
		if _, err := tx.ExecContext(ctx, r.rebind(query),
			app.ID, app.Title, app.Description, app.SubmittedAt.UTC(),
			app.ParticipantCount, app.StatusID, app.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to save application: %w", err)
		}

		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM application_windows WHERE application_id = ?`), app.ID); err != nil {
			return fmt.Errorf("failed to clear application windows: %w", err)
		}
		for i, w := range app.Windows {
			if _, err := tx.ExecContext(ctx,
				r.rebind(`INSERT INTO application_windows (application_id, position, start_at, end_at) VALUES (?, ?, ?, ?)`),
				app.ID, i, w.Start.UTC(), w.End.UTC(),
			); err != nil {
				return fmt.Errorf("failed to save application window: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM application_roles WHERE application_id = ?`), app.ID); err != nil {
			return fmt.Errorf("failed to clear application roles: %w", err)
		}
		for _, role := range dedupe(app.Roles) {
			if _, err := tx.ExecContext(ctx,
				r.rebind(`INSERT INTO application_roles (application_id, role_id) VALUES (?, ?)`),
				app.ID, role,
			); err != nil {
				return fmt.Errorf("failed to save application role: %w", err)
			}
		}
		return nil
	})
}

const applicationColumns = `a.id, a.title, a.description, a.submitted_at, a.participant_count, a.status_id, a.created_at`

func scanApplication(s interface{ Scan(...any) error }) (*domain.Application, error) {
	var app domain.Application
	if err := s.Scan(
		&app.ID, &app.Title, &app.Description, &app.SubmittedAt,
		&app.ParticipantCount, &app.StatusID, &app.CreatedAt,
	); err != nil {
		return nil, err
	}
	app.SubmittedAt = app.SubmittedAt.UTC()
	app.CreatedAt = app.CreatedAt.UTC()
	return &app, nil
}

// GetApplication retrieves an application by ID.
func (r *SQLRepository) GetApplication(ctx context.Context, appID string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications a WHERE a.id = ?`

	app, err := scanApplication(r.db.QueryRowContext(ctx, r.rebind(query), appID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("application", appID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	if err := r.loadApplicationDetails(ctx, []*domain.Application{app}); err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications returns applications newest submission first. A Year
// (and optional Month) keeps only applications with a window starting in
// that period.
func (r *SQLRepository) ListApplications(ctx context.Context, filter domain.ApplicationFilter) ([]*domain.Application, error) {
	if filter.Month < 0 || filter.Month > 12 || (filter.Month > 0 && filter.Year == 0) {
		return nil, fmt.Errorf("%w: month requires a year and must be 1-12", domain.ErrInvalidInput)
	}

	query := `SELECT ` + applicationColumns + ` FROM applications a`
	var args []any

	if filter.Year > 0 {
		from, to := periodBounds(filter.Year, filter.Month)
		query += `
			WHERE EXISTS (
				SELECT 1 FROM application_windows w
				WHERE w.application_id = a.id AND w.start_at >= ? AND w.start_at < ?
			)`
		args = append(args, from, to)
	}

	query += ` ORDER BY a.submitted_at DESC, a.id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	var apps []*domain.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	// Rows are drained before detail queries so a single connection pool
	// does not deadlock.
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.loadApplicationDetails(ctx, apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func periodBounds(year, month int) (time.Time, time.Time) {
	if month == 0 {
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(1, 0, 0)
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// loadApplicationDetails fills windows and roles for apps in batches.
func (r *SQLRepository) loadApplicationDetails(ctx context.Context, apps []*domain.Application) error {
	byID := make(map[string]*domain.Application, len(apps))
	ids := make([]any, 0, len(apps))
	for _, app := range apps {
		app.Windows = []domain.ScheduleWindow{}
		app.Roles = []string{}
		byID[app.ID] = app
		ids = append(ids, app.ID)
	}

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		chunk := ids[start:end]
		in := placeholders(len(chunk))

		windows, err := r.db.QueryContext(ctx, r.rebind(
			`SELECT application_id, start_at, end_at FROM application_windows
			 WHERE application_id IN (`+in+`) ORDER BY application_id, position`), chunk...)
		if err != nil {
			return fmt.Errorf("failed to load application windows: %w", err)
		}
		for windows.Next() {
			var id string
			var w domain.ScheduleWindow
			if err := windows.Scan(&id, &w.Start, &w.End); err != nil {
				windows.Close()
				return fmt.Errorf("failed to scan application window: %w", err)
			}
			w.Start, w.End = w.Start.UTC(), w.End.UTC()
			byID[id].Windows = append(byID[id].Windows, w)
		}
		if err := windows.Err(); err != nil {
			windows.Close()
			return err
		}
		windows.Close()

		roles, err := r.db.QueryContext(ctx, r.rebind(
			`SELECT application_id, role_id FROM application_roles
			 WHERE application_id IN (`+in+`) ORDER BY application_id, role_id`), chunk...)
		if err != nil {
			return fmt.Errorf("failed to load application roles: %w", err)
		}
		for roles.Next() {
			var id, role string
			if err := roles.Scan(&id, &role); err != nil {
				roles.Close()
				return fmt.Errorf("failed to scan application role: %w", err)
			}
			byID[id].Roles = append(byID[id].Roles, role)
		}
		if err := roles.Err(); err != nil {
			roles.Close()
			return err
		}
		roles.Close()
	}
	return nil
}

// SaveRule inserts or updates a rule and replaces its role set.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	return r.SaveRules(ctx, []*domain.Rule{rule})
}

// SaveRules stores every rule in one transaction: either all are written or
// none are.
func (r *SQLRepository) SaveRules(ctx context.Context, rules []*domain.Rule) error {
	for _, rule := range rules {
		if rule == nil || rule.ID == "" {
			return fmt.Errorf("%w: rule ID is required", domain.ErrInvalidInput)
		}
	}

	now := time.Now().UTC()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, rule := range rules {
			if err := r.saveRuleTx(ctx, tx, rule, now); err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
		}
		return nil
	})
}

func (r *SQLRepository) saveRuleTx(ctx context.Context, tx *sql.Tx, rule *domain.Rule, now time.Time) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (
			id, name, description, priority, active, condition_type,
			days_threshold, min_text_length, target_status_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			active = excluded.active,
			condition_type = excluded.condition_type,
			days_threshold = excluded.days_threshold,
			min_text_length = excluded.min_text_length,
			target_status_id = excluded.target_status_id,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Priority, boolToInt(rule.Active),
		string(rule.ConditionType), nullInt(rule.DaysThreshold), nullInt(rule.MinTextLength),
		rule.TargetStatusID, rule.CreatedAt, rule.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM rule_roles WHERE rule_id = ?`), rule.ID); err != nil {
		return fmt.Errorf("failed to clear rule roles: %w", err)
	}
	for i, role := range dedupe(rule.Roles) {
		if _, err := tx.ExecContext(ctx,
			r.rebind(`INSERT INTO rule_roles (rule_id, role_id, position) VALUES (?, ?, ?)`),
			rule.ID, role, i,
		); err != nil {
			return fmt.Errorf("failed to save rule role: %w", err)
		}
	}
	return nil
}

// SetRuleActive flips only the active flag of a rule.
func (r *SQLRepository) SetRuleActive(ctx context.Context, ruleID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`UPDATE rules SET active = ?, updated_at = ? WHERE id = ?`),
		boolToInt(active), time.Now().UTC(), ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n == 0 {
		return domain.NotFound("rule", ruleID)
	}
	return nil
}

const ruleColumns = `id, name, description, priority, active, condition_type, days_threshold, min_text_length, target_status_id, created_at, updated_at`

func scanRule(s interface{ Scan(...any) error }) (*domain.Rule, error) {
	var rule domain.Rule
	var active int
	var conditionType string
	var days, minLength sql.NullInt64

	if err := s.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Priority, &active, &conditionType,
		&days, &minLength, &rule.TargetStatusID, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Active = active == 1
	rule.ConditionType = domain.ConditionType(conditionType)
	rule.DaysThreshold = intPtr(days)
	rule.MinTextLength = intPtr(minLength)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

// GetRule retrieves a rule by ID regardless of its active flag.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("rule", ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if err := r.loadRuleRoles(ctx, []*domain.Rule{rule}); err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns every rule in evaluation order.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.listRules(ctx, false)
}

// ListActiveRules returns active rules ordered by priority desc, name asc.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	return r.listRules(ctx, true)
}

func (r *SQLRepository) listRules(ctx context.Context, activeOnly bool) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY priority DESC, name ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.loadRuleRoles(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *SQLRepository) loadRuleRoles(ctx context.Context, rules []*domain.Rule) error {
	if len(rules) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Rule, len(rules))
	for _, rule := range rules {
		rule.Roles = nil
		byID[rule.ID] = rule
	}

	rows, err := r.db.QueryContext(ctx, `SELECT rule_id, role_id FROM rule_roles ORDER BY rule_id, position`)
	if err != nil {
		return fmt.Errorf("failed to load rule roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID, roleID string
		if err := rows.Scan(&ruleID, &roleID); err != nil {
			return fmt.Errorf("failed to scan rule role: %w", err)
		}
		if rule, ok := byID[ruleID]; ok {
			rule.Roles = append(rule.Roles, roleID)
		}
	}
	return rows.Err()
}

// SaveStatus inserts or updates an approval status.
func (r *SQLRepository) SaveStatus(ctx context.Context, status *domain.Status) error {
	if status == nil || status.ID == "" {
		return fmt.Errorf("%w: status ID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO statuses (id, name, description, stage) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			stage = excluded.stage
	`
	if _, err := r.db.ExecContext(ctx, r.rebind(query), status.ID, status.Name, status.Description, status.Stage); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// GetStatus retrieves an approval status by ID.
func (r *SQLRepository) GetStatus(ctx context.Context, statusID string) (*domain.Status, error) {
	var s domain.Status
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT id, name, description, stage FROM statuses WHERE id = ?`), statusID,
	).Scan(&s.ID, &s.Name, &s.Description, &s.Stage)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("status", statusID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return &s, nil
}

// ListStatuses returns statuses ordered by stage.
func (r *SQLRepository) ListStatuses(ctx context.Context) ([]*domain.Status, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, stage FROM statuses ORDER BY stage, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*domain.Status
	for rows.Next() {
		var s domain.Status
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Stage); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, &s)
	}
	return statuses, rows.Err()
}

// SaveRole inserts or updates a participatory role.
func (r *SQLRepository) SaveRole(ctx context.Context, role *domain.Role) error {
	if role == nil || role.ID == "" {
		return fmt.Errorf("%w: role ID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO roles (id, name, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`
	if _, err := r.db.ExecContext(ctx, r.rebind(query), role.ID, role.Name, role.Description); err != nil {
		return fmt.Errorf("failed to save role: %w", err)
	}
	return nil
}

// GetRole retrieves a participatory role by ID.
func (r *SQLRepository) GetRole(ctx context.Context, roleID string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT id, name, description FROM roles WHERE id = ?`), roleID,
	).Scan(&role.ID, &role.Name, &role.Description)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("role", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles returns roles ordered by name.
func (r *SQLRepository) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description FROM roles ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

var _ domain.Repository = (*SQLRepository)(nil)
