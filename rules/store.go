package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval. List methods return
// rules in creation order; the engine runs rules in that order.
type RuleStore interface {
	// Add a new rule
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID
	Get(ctx context.Context, id string) (*Rule, error)

	// List all rules, active or not
	List(ctx context.Context) ([]*Rule, error)

	// List all active rules
	ListActive(ctx context.Context) ([]*Rule, error)

	// List active rules whose trigger event equals event
	ListActiveForEvent(ctx context.Context, event string) ([]*Rule, error)

	// Update an existing rule
	Update(ctx context.Context, rule *Rule) error

	// Delete a rule
	Delete(ctx context.Context, id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map plus an
// insertion-order index
type InMemoryRuleStore struct {
	rules map[string]*Rule
	order []string
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store and stamps CreatedAt and UpdatedAt
func (s *InMemoryRuleStore) Add(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	s.order = append(s.order, rule.ID)
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

func (s *InMemoryRuleStore) List(_ context.Context) ([]*Rule, error) {
	return s.filter(func(*Rule) bool { return true }), nil
}

func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*Rule, error) {
	return s.filter(func(r *Rule) bool { return r.Active }), nil
}

func (s *InMemoryRuleStore) ListActiveForEvent(_ context.Context, event string) ([]*Rule, error) {
	return s.filter(func(r *Rule) bool { return r.Active && r.TriggerEvent == event }), nil
}

func (s *InMemoryRuleStore) filter(keep func(*Rule) bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, id := range s.order {
		if rule := s.rules[id]; keep(rule) {
			out = append(out, rule)
		}
	}
	return out
}

// Update replaces an existing rule, preserving CreatedAt and its position
func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	for i, ruleID := range s.order {
		if ruleID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
