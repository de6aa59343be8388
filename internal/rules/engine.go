// Package rules provides the CEL-Go based status classification engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// costLimit bounds the runtime cost of a single program evaluation.
const costLimit = 1_000_000

// maxThresholdDays is the largest day count representable as a time.Duration.
const maxThresholdDays = 106751

var tracer = otel.Tracer("cogsolver-rules")

// RuleSource returns active rules ordered by priority desc, name asc.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]*domain.Rule, error)
}

// ApplicationSource returns the applications the engine classifies.
type ApplicationSource interface {
	ListApplications(ctx context.Context, filter domain.ApplicationFilter) ([]*domain.Application, error)
	GetApplication(ctx context.Context, appID string) (*domain.Application, error)
}

// Engine is the CEL-based classification engine. It only recommends
// statuses and never writes to its sources.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program // keyed by expression source

	rules  RuleSource
	apps   ApplicationSource
	logger *slog.Logger
}

// NewEngine creates a new classification engine. apps may be nil when only
// single-application recommendations are needed.
func NewEngine(rules RuleSource, apps ApplicationSource, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
		rules:    rules,
		apps:     apps,
		logger:   logger.With("component", "rules"),
	}, nil
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		// Application facts
		cel.Variable("submitted_at", cel.TimestampType),
		cel.Variable("window_starts", cel.ListType(cel.TimestampType)),
		cel.Variable("app_roles", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("description", cel.StringType),
		// Rule parameters
		cel.Variable("threshold", cel.DurationType),
		cel.Variable("rule_roles", cel.ListType(cel.StringType)),
		cel.Variable("min_length", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// Evaluate reports whether rule matches app. It never fails: evaluation
// errors are logged and reported as a non-match.
func (e *Engine) Evaluate(rule *domain.Rule, app *domain.Application) bool {
	matched, err := e.Check(rule, app)
	if err != nil {
		e.logEvaluationError(err)
		return false
	}
	return matched
}

// Check evaluates rule against app. A non-nil error is always a
// *domain.EvaluationError and implies matched == false.
func (e *Engine) Check(rule *domain.Rule, app *domain.Application) (matched bool, err error) {
	if rule == nil || app == nil {
		return false, &domain.EvaluationError{Err: errors.New("rule and application are required")}
	}
	if !rule.Active {
		return false, nil
	}

	fail := func(err error) (bool, error) {
		return false, &domain.EvaluationError{RuleID: rule.ID, ApplicationID: app.ID, Err: err}
	}

	cond, err := ConditionOf(rule)
	if err != nil {
		return fail(err)
	}

	activation, err := activationFor(cond, app)
	if err != nil {
		return fail(err)
	}

	program, err := e.program(source(cond))
	if err != nil {
		return fail(err)
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return fail(err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return fail(fmt.Errorf("expression returned %T, want bool", out.Value()))
	}
	return b, nil
}

// activationFor binds application facts and rule parameters. Date facts are
// checked only when the condition compares dates against existing windows.
func activationFor(cond Condition, app *domain.Application) (map[string]any, error) {
	days, ruleRoles, minLength := params(cond)

	threshold := time.Duration(0)
	if days != nil {
		if *days > maxThresholdDays || *days < -maxThresholdDays {
			return nil, fmt.Errorf("days threshold %d overflows the date range", *days)
		}
		threshold = time.Duration(*days) * 24 * time.Hour

		if len(app.Windows) > 0 {
			if app.SubmittedAt.IsZero() {
				return nil, errors.New("submission timestamp is not set")
			}
			for i, w := range app.Windows {
				if w.Start.IsZero() {
					return nil, fmt.Errorf("window %d has no start timestamp", i)
				}
			}
		}
	}

	var min int64
	if minLength != nil {
		min = int64(*minLength)
	}

	return map[string]any{
		"submitted_at":  app.SubmittedAt,
		"window_starts": app.WindowStarts(),
		"app_roles":     roleSet(app.Roles),
		"description":   app.Description,
		"threshold":     threshold,
		"rule_roles":    nonNil(ruleRoles),
		"min_length":    min,
	}, nil
}

// roleSet binds application roles as a map so membership is one lookup per
// rule role, whatever the size of either set.
func roleSet(roles []string) map[string]bool {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return set
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// program returns the compiled program for src, compiling it on first use.
func (e *Engine) program(src string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	e.mu.Lock()
	e.programs[src] = prg
	e.mu.Unlock()

	return prg, nil
}

// Recommend applies the active rules to app in priority order and returns
// the target status of the first match, or app's current status when no
// rule matches. Only a failure to load rules is returned as an error.
func (e *Engine) Recommend(ctx context.Context, app *domain.Application) (string, error) {
	if app == nil {
		return "", fmt.Errorf("%w: application is required", domain.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "rules.Recommend",
		trace.WithAttributes(attribute.String("application.id", app.ID)),
	)
	defer span.End()

	rules, err := e.activeRules(ctx)
	if err != nil {
		return "", err
	}

	status, _ := e.recommend(app, rules)
	return status, nil
}

// RecommendOne loads one application and returns its report row.
func (e *Engine) RecommendOne(ctx context.Context, appID string) (*domain.ReportRow, error) {
	if e.apps == nil {
		return nil, errors.New("engine has no application source")
	}

	app, err := e.apps.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}

	status, err := e.Recommend(ctx, app)
	if err != nil {
		return nil, err
	}

	return &domain.ReportRow{
		Application:         app,
		CurrentStatusID:     app.StatusID,
		RecommendedStatusID: status,
		Changed:             status != app.StatusID,
	}, nil
}

// recommend walks rules in order. Rule failures are isolated: they are
// logged, counted and skipped.
func (e *Engine) recommend(app *domain.Application, rules []*domain.Rule) (string, int) {
	failures := 0
	for _, rule := range rules {
		matched, err := e.Check(rule, app)
		if err != nil {
			failures++
			e.logEvaluationError(err)
			continue
		}
		if matched {
			return rule.TargetStatusID, failures
		}
	}
	return app.StatusID, failures
}

// BatchApply recommends a status for every application from the source.
// Rows keep the source order. Nothing is persisted.
func (e *Engine) BatchApply(ctx context.Context) (*domain.BatchReport, error) {
	if e.apps == nil {
		return nil, errors.New("engine has no application source")
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "rules.BatchApply")
	defer span.End()

	apps, err := e.apps.ListApplications(ctx, domain.ApplicationFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	rules, err := e.activeRules(ctx)
	if err != nil {
		return nil, err
	}

	report := e.apply(apps, rules)
	report.Metadata.TotalMs = time.Since(start).Milliseconds()
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		report.Metadata.TraceID = sc.TraceID().String()
	}

	span.SetAttributes(
		attribute.Int("applications.count", len(apps)),
		attribute.Int("rules.count", len(rules)),
		attribute.Int("applications.changed", report.ChangedCount),
	)

	e.logger.Info("batch recommendation computed",
		"applications", len(apps),
		"rules", len(rules),
		"changed", report.ChangedCount,
		"evaluation_errors", report.Metadata.EvaluationErrors,
		"duration_ms", report.Metadata.TotalMs,
	)

	return report, nil
}

// apply builds a report for apps against already ordered rules.
func (e *Engine) apply(apps []*domain.Application, rules []*domain.Rule) *domain.BatchReport {
	report := &domain.BatchReport{
		Rows:        make([]domain.ReportRow, 0, len(apps)),
		GeneratedAt: time.Now().UTC(),
	}
	report.Metadata.RulesEvaluated = len(rules)

	for _, app := range apps {
		status, failures := e.recommend(app, rules)
		report.Metadata.EvaluationErrors += failures

		row := domain.ReportRow{
			Application:         app,
			CurrentStatusID:     app.StatusID,
			RecommendedStatusID: status,
			Changed:             status != app.StatusID,
		}
		if row.Changed {
			report.ChangedCount++
		}
		report.Rows = append(report.Rows, row)
	}

	report.Rules = Summarize(report.Rows, rules)
	return report
}

// activeRules fetches rules and puts them in evaluation order. Inactive
// rules are dropped even if the source returned them.
func (e *Engine) activeRules(ctx context.Context) ([]*domain.Rule, error) {
	if e.rules == nil {
		return nil, nil
	}

	all, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	active := make([]*domain.Rule, 0, len(all))
	for _, r := range all {
		if r != nil && r.Active {
			active = append(active, r)
		}
	}
	SortRules(active)
	return active, nil
}

// SortRules orders rules by priority desc, then name asc, then ID asc.
func SortRules(rules []*domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

func (e *Engine) logEvaluationError(err error) {
	var evalErr *domain.EvaluationError
	if errors.As(err, &evalErr) {
		e.logger.Warn("rule evaluation failed",
			"rule_id", evalErr.RuleID,
			"application_id", evalErr.ApplicationID,
			"error", evalErr.Err,
		)
		return
	}
	e.logger.Warn("rule evaluation failed", "error", err)
}

// CompiledCount returns the number of distinct compiled condition programs.
func (e *Engine) CompiledCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}
