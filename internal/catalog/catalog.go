// Package catalog manages rules and reference data on top of the
// repository. It validates writes, keeps the active rule list cached and
// announces rule changes on the event bus.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/cogsolver/internal/bus"
	"github.com/opensource-finance/cogsolver/internal/cache"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/opensource-finance/cogsolver/internal/rules"
	"github.com/opensource-finance/cogsolver/internal/validation"
)

// activeRulesKey caches the ordered active rule list.
const activeRulesKey = "rules:active"

// Catalog is the write path for rules, statuses and roles, and the cached
// RuleSource used by the engine.
type Catalog struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a catalog. cache and eventBus are optional.
func New(repo domain.Repository, c domain.Cache, eventBus domain.EventBus, ttl time.Duration, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{
		repo:   repo,
		cache:  c,
		bus:    eventBus,
		ttl:    ttl,
		logger: logger.With("component", "catalog"),
	}
}

// ListActiveRules returns active rules in evaluation order, from cache when
// possible. Cache failures fall back to the repository.
func (c *Catalog) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	if c.cache != nil {
		cached, found, err := cache.GetJSON[[]*domain.Rule](ctx, c.cache, activeRulesKey)
		if err != nil {
			c.logger.Warn("rule cache read failed", "error", err)
		} else if found {
			return cached, nil
		}
	}

	active, err := c.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = []*domain.Rule{}
	}

	if c.cache != nil {
		if err := cache.SetJSON(ctx, c.cache, activeRulesKey, active, c.ttl); err != nil {
			c.logger.Warn("rule cache write failed", "error", err)
		}
	}
	return active, nil
}

// SaveRule validates rule, checks its references and persists it. A new
// rule without an ID gets one. Returns *domain.ConfigurationError for an
// incomplete rule and a NotFoundError for a missing status or role.
func (c *Catalog) SaveRule(ctx context.Context, rule *domain.Rule) error {
	return c.SaveRules(ctx, []*domain.Rule{rule})
}

// SaveRules checks every rule before storing any of them, then stores them
// in one transaction. Nothing is written when a single rule is rejected.
func (c *Catalog) SaveRules(ctx context.Context, defs []*domain.Rule) error {
	for _, rule := range defs {
		if err := c.check(ctx, rule); err != nil {
			if len(defs) == 1 {
				return err
			}
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}

	for _, rule := range defs {
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
	}
	if err := c.repo.SaveRules(ctx, defs); err != nil {
		return err
	}

	for _, rule := range defs {
		c.logger.Info("rule saved",
			"rule_id", rule.ID,
			"name", rule.Name,
			"condition_type", rule.ConditionType,
			"active", rule.Active,
		)
	}
	c.changed(ctx, defs...)
	return nil
}

// check validates rule and confirms its target status and roles exist.
func (c *Catalog) check(ctx context.Context, rule *domain.Rule) error {
	if err := rules.Validate(rule); err != nil {
		return err
	}
	if _, err := c.repo.GetStatus(ctx, rule.TargetStatusID); err != nil {
		return err
	}
	for _, roleID := range rule.Roles {
		if _, err := c.repo.GetRole(ctx, roleID); err != nil {
			return err
		}
	}
	return nil
}

// SetRuleActive toggles a rule without touching its other fields, so a rule
// whose references have since disappeared can still be switched off.
func (c *Catalog) SetRuleActive(ctx context.Context, ruleID string, active bool) (*domain.Rule, error) {
	if err := c.repo.SetRuleActive(ctx, ruleID, active); err != nil {
		return nil, err
	}
	rule, err := c.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("rule toggled", "rule_id", ruleID, "active", active)
	c.changed(ctx, rule)
	return rule, nil
}

// changed drops the local cache and tells other nodes to do the same.
func (c *Catalog) changed(ctx context.Context, changed ...*domain.Rule) {
	c.Invalidate(ctx)
	if c.bus == nil {
		return
	}
	for _, rule := range changed {
		if err := bus.PublishJSON(ctx, c.bus, domain.TopicRuleChanged, domain.RuleChanged{RuleID: rule.ID}); err != nil {
			c.logger.Warn("failed to publish rule change", "rule_id", rule.ID, "error", err)
		}
	}
}

// Invalidate drops the cached active rule list.
func (c *Catalog) Invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, activeRulesKey); err != nil {
		c.logger.Warn("rule cache invalidation failed", "error", err)
	}
}

// Watch invalidates the cache whenever any node announces a rule change.
func (c *Catalog) Watch(ctx context.Context) (domain.Subscription, error) {
	if c.bus == nil {
		return nil, fmt.Errorf("catalog has no event bus")
	}
	return c.bus.Subscribe(ctx, domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
		event, err := bus.Decode[domain.RuleChanged](msg)
		if err != nil {
			return err
		}
		c.logger.Debug("rule change received", "rule_id", event.RuleID)
		c.Invalidate(ctx)
		return nil
	})
}

// SaveStatus validates and stores an approval status.
func (c *Catalog) SaveStatus(ctx context.Context, status *domain.Status) error {
	if err := validation.Struct(status); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if status.ID == "" {
		status.ID = uuid.New().String()
	}
	return c.repo.SaveStatus(ctx, status)
}

// SaveRole validates and stores a participatory role.
func (c *Catalog) SaveRole(ctx context.Context, role *domain.Role) error {
	if err := validation.Struct(role); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	return c.repo.SaveRole(ctx, role)
}
