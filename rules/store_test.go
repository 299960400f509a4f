package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestRuleStoreInterfaceExists verifies at compile-time that the stores implement RuleStore
func TestRuleStoreInterfaceExists(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
	var _ RuleStore = (*PostgresRuleStore)(nil)
}

func newRule(id, event string, active bool) *Rule {
	return &Rule{
		ID:           id,
		Name:         "Rule " + id,
		TriggerEvent: event,
		Active:       active,
		Actions: []Action{
			{Kind: ActionCreateTask, Params: map[string]string{"subject": "Follow up on {deal_name}"}},
		},
	}
}

func TestInMemoryRuleStoreAdd(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()

	rule := newRule("test-1", "deal.updated", true)
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	retrieved, err := store.Get(ctx, "test-1")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}

	if retrieved.ID != rule.ID {
		t.Errorf("Retrieved rule ID = %s, want %s", retrieved.ID, rule.ID)
	}
	if retrieved.TriggerEvent != "deal.updated" {
		t.Errorf("Retrieved rule TriggerEvent = %s, want deal.updated", retrieved.TriggerEvent)
	}
}

func TestInMemoryRuleStoreAddDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()

	first := newRule("duplicate-id", "deal.updated", true)
	first.Name = "First Rule"
	second := newRule("duplicate-id", "deal.created", true)
	second.Name = "Second Rule"

	if err := store.Add(ctx, first); err != nil {
		t.Fatalf("First Add() should succeed: %v", err)
	}

	err := store.Add(ctx, second)
	if !errors.Is(err, ErrRuleExists) {
		t.Fatalf("Add() with duplicate ID error = %v, want ErrRuleExists", err)
	}

	retrieved, err := store.Get(ctx, "duplicate-id")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if retrieved.Name != "First Rule" {
		t.Errorf("Rule should not have been overwritten, Name = %s, want 'First Rule'", retrieved.Name)
	}
}

func TestInMemoryRuleStoreGetNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreTimestamps(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()

	rule := newRule("ts", "deal.updated", true)
	before := time.Now()
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if rule.CreatedAt.Before(before) || !rule.CreatedAt.Equal(rule.UpdatedAt) {
		t.Errorf("Add() should stamp CreatedAt == UpdatedAt >= start, got %v / %v", rule.CreatedAt, rule.UpdatedAt)
	}

	created := rule.CreatedAt
	time.Sleep(2 * time.Millisecond)

	updated := newRule("ts", "deal.created", false)
	if err := store.Update(ctx, updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if !updated.CreatedAt.Equal(created) {
		t.Errorf("Update() should preserve CreatedAt, got %v want %v", updated.CreatedAt, created)
	}
	if !updated.UpdatedAt.After(created) {
		t.Errorf("Update() should advance UpdatedAt, got %v", updated.UpdatedAt)
	}
}

func TestInMemoryRuleStoreUpdateNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	err := store.Update(context.Background(), newRule("missing", "deal.updated", true))
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Update() error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreListActiveForEvent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()

	for _, r := range []*Rule{
		newRule("c", "deal.updated", true),
		newRule("a", "deal.updated", true),
		newRule("inactive", "deal.updated", false),
		newRule("other", "deal.created", true),
		newRule("b", "deal.updated", true),
	} {
		if err := store.Add(ctx, r); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	got, err := store.ListActiveForEvent(ctx, "deal.updated")
	if err != nil {
		t.Fatalf("ListActiveForEvent() failed: %v", err)
	}

	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("ListActiveForEvent() returned %d rules, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("rule %d = %s, want %s (insertion order)", i, got[i].ID, id)
		}
	}

	active, _ := store.ListActive(ctx)
	if len(active) != 4 {
		t.Errorf("ListActive() returned %d rules, want 4", len(active))
	}

	all, _ := store.List(ctx)
	if len(all) != 5 {
		t.Errorf("List() returned %d rules, want 5", len(all))
	}
}

func TestInMemoryRuleStoreListActiveEmpty(t *testing.T) {
	store := NewInMemoryRuleStore()

	rules, err := store.ListActiveForEvent(context.Background(), "deal.updated")
	if err != nil {
		t.Fatalf("ListActiveForEvent() failed: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("empty store returned %d rules", len(rules))
	}
}

func TestInMemoryRuleStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()

	for _, id := range []string{"1", "2", "3"} {
		if err := store.Add(ctx, newRule(id, "deal.updated", true)); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	if err := store.Delete(ctx, "2"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if _, err := store.Get(ctx, "2"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrRuleNotFound", err)
	}

	remaining, _ := store.List(ctx)
	if len(remaining) != 2 || remaining[0].ID != "1" || remaining[1].ID != "3" {
		t.Errorf("List() after Delete() = %v, want [1 3]", ids(remaining))
	}

	if err := store.Delete(ctx, "2"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("second Delete() error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreConcurrentReadWrite(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(2)
		go func(writerID int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("w%d-%d", writerID, i)
				if err := store.Add(ctx, newRule(id, "deal.updated", true)); err != nil {
					t.Errorf("Add(%s) failed: %v", id, err)
				}
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := store.ListActiveForEvent(ctx, "deal.updated"); err != nil {
					t.Errorf("ListActiveForEvent() failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	all, _ := store.List(ctx)
	if len(all) != 200 {
		t.Errorf("List() returned %d rules, want 200", len(all))
	}
}

func ids(rules []*Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}
