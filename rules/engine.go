package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine runs workflow rules for trigger events. It holds no per-call state;
// one Engine serves concurrent callers.
type Engine struct {
	store     RuleStore
	cache     RulesCache // active rules per trigger event
	evaluator *Evaluator
	executor  *Executor
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures an Engine
type Option func(*engineOptions)

type engineOptions struct {
	cache             RulesCache
	logger            *slog.Logger
	metrics           *Metrics
	fallbackRecipient string
}

// WithCache replaces the default in-memory rules cache
func WithCache(cache RulesCache) Option {
	return func(o *engineOptions) { o.cache = cache }
}

// WithLogger sets the logger used for action and evaluation reports
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithFallbackRecipient sets the address used when an email action finds
// neither a contact nor an actor address
func WithFallbackRecipient(addr string) Option {
	return func(o *engineOptions) { o.fallbackRecipient = addr }
}

// NewEngine creates a rules engine reading rules from store and writing
// side effects to tasks and mailer
func NewEngine(store RuleStore, tasks TaskStore, mailer Mailer, opts ...Option) (*Engine, error) {
	o := engineOptions{
		logger:            slog.Default(),
		fallbackRecipient: DefaultFallbackRecipient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = NewInMemoryRulesCache(DefaultCacheConfig())
	}

	evaluator, err := NewEvaluator()
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:     store,
		cache:     o.cache,
		evaluator: evaluator,
		executor:  NewExecutor(tasks, mailer, o.fallbackRecipient, o.logger, o.metrics),
		logger:    o.logger,
		metrics:   o.metrics,
	}, nil
}

// RegisterOperator adds a condition operator
func (en *Engine) RegisterOperator(op Operator, handler OperatorHandler) {
	en.evaluator.Register(op, handler)
}

// RegisterAction adds an action kind
func (en *Engine) RegisterAction(kind ActionKind, handler ActionHandler) {
	en.executor.Register(kind, handler)
}

// Process runs every active rule for event against entity, in store order.
// A rule whose conditions all hold has its actions executed before the next
// rule is considered. Failures of one rule or action are recorded in the
// results and never stop later rules. The error is non-nil only when the
// rules cannot be loaded or ctx is cancelled.
func (en *Engine) Process(ctx context.Context, event string, entity Entity, actor Actor) ([]*RuleResult, error) {
	started := time.Now()
	defer en.metrics.observeProcess(event, started)

	rules, err := en.rulesForEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for %s: %w", event, err)
	}

	results := make([]*RuleResult, 0, len(rules))
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		// Stores filter already; re-check so inactive rules can never run
		if !rule.Active || rule.TriggerEvent != event {
			continue
		}
		results = append(results, en.processRule(ctx, event, rule, entity, actor))
	}

	return results, nil
}

func (en *Engine) processRule(ctx context.Context, event string, rule *Rule, entity Entity, actor Actor) (result *RuleResult) {
	result = &RuleResult{RuleID: rule.ID, RuleName: rule.Name}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
			en.logger.Error("workflow rule panicked", "rule_id", rule.ID, "event", event, "panic", r)
			en.metrics.ruleEvaluated(event, "error")
		}
	}()

	matched, err := en.evaluator.Evaluate(ctx, rule.Conditions, entity)
	if err != nil {
		result.Error = err
		en.logger.Warn("workflow rule condition failed",
			"rule_id", rule.ID, "event", event, "error", err)
		en.metrics.ruleEvaluated(event, "error")
		return result
	}
	if !matched {
		en.metrics.ruleEvaluated(event, "unmatched")
		return result
	}

	en.metrics.ruleEvaluated(event, "matched")
	result.Matched = true
	result.Actions = en.executor.Execute(ctx, rule, entity, actor)
	return result
}

func (en *Engine) rulesForEvent(ctx context.Context, event string) ([]*Rule, error) {
	if cached, ok := en.cache.Get(ctx, event); ok {
		return cached, nil
	}

	// Read the generation first: a rule change during the store read must
	// not be overwritten by this older result
	generation := en.cache.Generation(ctx)
	rules, err := en.store.ListActiveForEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	en.cache.Set(ctx, generation, event, rules)
	return rules, nil
}

// ValidateRule checks a rule definition before it is stored: it needs a
// name and trigger event, known operators (expressions must compile) and
// known action kinds with their required params.
func (en *Engine) ValidateRule(r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.TriggerEvent == "" {
		return fmt.Errorf("%w: triggerEvent is required", ErrInvalidRule)
	}
	if err := en.evaluator.Validate(r.Conditions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	for i, a := range r.Actions {
		if !en.executor.Supports(a.Kind) {
			return fmt.Errorf("%w: action %d: %w", ErrInvalidRule, i, &UnknownActionKindError{Kind: a.Kind})
		}
		for _, param := range requiredParams[a.Kind] {
			if a.Params[param] == "" {
				return fmt.Errorf("%w: action %d (%s) requires param %q", ErrInvalidRule, i, a.Kind, param)
			}
		}
	}
	return nil
}

var requiredParams = map[ActionKind][]string{
	ActionCreateTask: {"subject"},
	ActionSendEmail:  {"subject", "body"},
}

// AddRule validates a rule, assigns an ID when missing, and stores it.
// A rejected rule is left unchanged.
func (en *Engine) AddRule(ctx context.Context, r *Rule) error {
	if err := en.ValidateRule(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := en.store.Add(ctx, r); err != nil {
		return err
	}

	// Invalidate cache since rules list changed
	en.cache.Invalidate(ctx)
	return nil
}

// UpdateRule validates and replaces an existing rule
func (en *Engine) UpdateRule(ctx context.Context, r *Rule) error {
	if err := en.ValidateRule(r); err != nil {
		return err
	}
	if err := en.store.Update(ctx, r); err != nil {
		return err
	}

	en.cache.Invalidate(ctx)
	return nil
}

// DeleteRule removes a rule
func (en *Engine) DeleteRule(ctx context.Context, ruleID string) error {
	if err := en.store.Delete(ctx, ruleID); err != nil {
		return err
	}

	en.cache.Invalidate(ctx)
	return nil
}

func (en *Engine) GetRule(ctx context.Context, ruleID string) (*Rule, error) {
	return en.store.Get(ctx, ruleID)
}

func (en *Engine) ListRules(ctx context.Context) ([]*Rule, error) {
	return en.store.List(ctx)
}

// ListActiveRules returns the active rules for every trigger event
func (en *Engine) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	return en.store.ListActive(ctx)
}

// IsValidationError reports whether err came from ValidateRule
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRule)
}
