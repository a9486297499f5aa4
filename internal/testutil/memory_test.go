package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

func TestMemoryStore_GetDueRulesPagesByCursor(t *testing.T) {
	store := NewMemoryStore()
	ctx := Context(t)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	// Five rules share one slot, so only the id breaks ties.
	for i := 0; i < 5; i++ {
		if err := store.CreateRule(ctx, domain.RecurringRule{ID: uuid.New(), IsActive: true, NextRunAt: at}); err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
	}

	seen := make(map[uuid.UUID]bool)
	var after domain.RuleCursor
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("paging did not terminate")
		}
		page, err := store.GetDueRules(ctx, at, after, 2)
		if err != nil {
			t.Fatalf("GetDueRules: %v", err)
		}
		for _, r := range page {
			if seen[r.ID] {
				t.Fatalf("rule %s returned twice", r.ID)
			}
			seen[r.ID] = true
		}
		if len(page) < 2 {
			break
		}
		after = domain.CursorOf(page[len(page)-1])
	}
	if len(seen) != 5 {
		t.Errorf("saw %d rules, want 5", len(seen))
	}
}

func TestMemoryStore_CompleteRunKeepsPause(t *testing.T) {
	store := NewMemoryStore()
	ctx := Context(t)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rule := domain.RecurringRule{ID: uuid.New(), OwnerID: uuid.New(), Name: "Hosting", IsActive: true, NextRunAt: at}
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	run, err := store.ClaimRun(ctx, domain.RecurringRun{ID: uuid.New(), OwnerID: rule.OwnerID, RuleID: rule.ID, ScheduledAt: at, Status: domain.RunStatusRunning})
	if err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}

	paused := false
	if _, err := store.UpdateRule(ctx, rule.OwnerID, rule.ID, domain.RulePatch{IsActive: &paused, UpdatedAt: at}); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}

	// The in-flight run still carries the rule as it was read before the pause.
	advanced := rule
	advanced.NextRunAt = at.AddDate(0, 1, 0)
	advanced.OccurrencesCount = 1
	run.Status = domain.RunStatusCompleted
	if err := store.CompleteRun(ctx, advanced, run); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := store.GetRule(ctx, rule.OwnerID, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.IsActive {
		t.Error("completion reactivated a paused rule")
	}
	if !got.NextRunAt.Equal(advanced.NextRunAt) || got.OccurrencesCount != 1 {
		t.Errorf("rule not advanced: next=%v count=%d", got.NextRunAt, got.OccurrencesCount)
	}
}
