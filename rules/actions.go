package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cast"
)

// DefaultFallbackRecipient receives workflow email when neither the
// entity's contact nor the actor has an address
const DefaultFallbackRecipient = "notifications@example.com"

// Invocation is everything an action handler sees for one action
type Invocation struct {
	Rule   *Rule
	Action Action
	Entity Entity
	Actor  Actor
}

// ActionHandler performs one kind of action
type ActionHandler interface {
	Execute(ctx context.Context, inv Invocation) (ActionResult, error)
}

// Executor dispatches actions by kind. Each action runs in its own failure
// boundary: an error or panic is recorded on its ActionResult and the next
// action still runs.
type Executor struct {
	handlers map[ActionKind]ActionHandler
	logger   *slog.Logger
	metrics  *Metrics
	mu       sync.RWMutex
}

// NewExecutor creates an executor with createTask and sendEmail registered
func NewExecutor(tasks TaskStore, mailer Mailer, fallbackRecipient string, logger *slog.Logger, metrics *Metrics) *Executor {
	if fallbackRecipient == "" {
		fallbackRecipient = DefaultFallbackRecipient
	}
	ex := &Executor{
		handlers: make(map[ActionKind]ActionHandler),
		logger:   logger,
		metrics:  metrics,
	}
	ex.Register(ActionCreateTask, &createTaskHandler{tasks: tasks, logger: logger})
	ex.Register(ActionSendEmail, &sendEmailHandler{mailer: mailer, fallback: fallbackRecipient, logger: logger})
	return ex
}

// Register installs or replaces the handler for an action kind
func (ex *Executor) Register(kind ActionKind, handler ActionHandler) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.handlers[kind] = handler
}

// Supports reports whether kind has a registered handler
func (ex *Executor) Supports(kind ActionKind) bool {
	_, ok := ex.handler(kind)
	return ok
}

func (ex *Executor) handler(kind ActionKind) (ActionHandler, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	h, ok := ex.handlers[kind]
	return h, ok
}

// Execute runs the rule's actions in order and returns one result per action
func (ex *Executor) Execute(ctx context.Context, rule *Rule, entity Entity, actor Actor) []ActionResult {
	if len(rule.Actions) == 0 {
		return nil
	}

	results := make([]ActionResult, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		h, ok := ex.handler(action.Kind)
		if !ok {
			err := &UnknownActionKindError{Kind: action.Kind}
			ex.logger.Warn("skipping workflow action", "rule_id", rule.ID, "kind", action.Kind, "error", err)
			ex.metrics.actionExecuted(action.Kind, "skipped")
			results = append(results, ActionResult{Kind: action.Kind, Skipped: true, Error: err})
			continue
		}

		res := ex.run(ctx, h, Invocation{Rule: rule, Action: action, Entity: entity, Actor: actor})
		if res.Error != nil {
			ex.logger.Error("workflow action failed", "rule_id", rule.ID, "kind", action.Kind, "error", res.Error)
			ex.metrics.actionExecuted(action.Kind, "failed")
		} else {
			ex.metrics.actionExecuted(action.Kind, "ok")
		}
		results = append(results, res)
	}
	return results
}

func (ex *Executor) run(ctx context.Context, h ActionHandler, inv Invocation) (res ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ActionResult{
				Kind:  inv.Action.Kind,
				Error: &ActionError{RuleID: inv.Rule.ID, Kind: inv.Action.Kind, Err: fmt.Errorf("panic: %v", r)},
			}
		}
	}()

	res, err := h.Execute(ctx, inv)
	res.Kind = inv.Action.Kind
	if err != nil {
		res.Error = &ActionError{RuleID: inv.Rule.ID, Kind: inv.Action.Kind, Err: err}
	}
	return res
}

type createTaskHandler struct {
	tasks  TaskStore
	logger *slog.Logger
}

func (h *createTaskHandler) Execute(ctx context.Context, inv Invocation) (ActionResult, error) {
	tenantID := inv.Actor.TenantID
	if v, ok := inv.Entity.Attribute(TenantAttribute); ok && v != nil {
		if s := cast.ToString(v); s != "" {
			tenantID = s
		}
	}

	createdBy := inv.Actor.UserID
	if createdBy == "" {
		createdBy = SystemActorID
	}

	task, err := h.tasks.CreateTask(ctx, NewTask{
		Subject:      Render(inv.Action.Params["subject"], inv.Entity),
		Status:       TaskStatusTodo,
		Priority:     TaskPriorityMedium,
		TenantID:     tenantID,
		CreatedBy:    createdBy,
		TaskableType: inv.Entity.Type(),
		TaskableID:   inv.Entity.ID(),
	})
	if err != nil {
		return ActionResult{}, err
	}

	h.logger.Info("workflow created task",
		"rule_id", inv.Rule.ID,
		"task_id", task.ID,
		"subject", task.Subject,
		"taskable_type", task.TaskableType,
		"taskable_id", task.TaskableID,
	)
	return ActionResult{TaskID: task.ID}, nil
}

type sendEmailHandler struct {
	mailer   Mailer
	fallback string
	logger   *slog.Logger
}

func (h *sendEmailHandler) Execute(ctx context.Context, inv Invocation) (ActionResult, error) {
	to := h.recipient(inv.Entity, inv.Actor)
	subject := Render(inv.Action.Params["subject"], inv.Entity)
	body := Render(inv.Action.Params["body"], inv.Entity)

	if err := h.mailer.SendMail(ctx, to, subject, body); err != nil {
		return ActionResult{Recipient: to}, err
	}

	h.logger.Info("workflow sent email", "rule_id", inv.Rule.ID, "to", to, "subject", subject)
	return ActionResult{Recipient: to}, nil
}

// recipient prefers the entity's contact, then the actor, then the fallback
func (h *sendEmailHandler) recipient(entity Entity, actor Actor) string {
	if v, ok := resolveField(entity, "contact.email"); ok && v != nil {
		if s := cast.ToString(v); s != "" {
			return s
		}
	}
	if actor.Email != "" {
		return actor.Email
	}
	return h.fallback
}
