package testutil

import (
	"testing"
	"time"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

func TestClock_SetAndAdvance(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	c := NewClock(time.Date(2024, 1, 10, 10, 0, 0, 0, loc))

	if got, want := c.Now(), time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC); !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("Now() = %v, want %v in UTC", got, want)
	}

	slot := time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC)
	c.Set(slot)
	c.Advance(90 * time.Second)
	if got, want := c.Now(), slot.Add(90*time.Second); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}

func TestContext_Deadline(t *testing.T) {
	deadline, ok := Context(t).Deadline()
	if !ok {
		t.Fatal("Context should carry a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > contextTimeout {
		t.Errorf("remaining = %v, want within %v", remaining, contextTimeout)
	}
}

func TestSeedOwner(t *testing.T) {
	store := NewMemoryStore()
	o := SeedOwner(store)
	ctx := Context(t)

	src, err := store.GetDocument(ctx, o.ID, o.Source.ID)
	if err != nil {
		t.Fatalf("source document not stored: %v", err)
	}
	if src.CustomerID == nil || *src.CustomerID != o.Customer.ID {
		t.Errorf("source customer = %v, want %s", src.CustomerID, o.Customer.ID)
	}

	cs, err := store.GetSettings(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	format, _, next := cs.NumberingFor(domain.DocumentTypeInvoice)
	if format != "F-{YEAR}-{SEQ}" || next != 1 {
		t.Errorf("invoice numbering = %q next %d", format, next)
	}

	if _, err := store.GetTemplate(ctx, o.ID, o.Template.ID); err != nil {
		t.Errorf("template not stored: %v", err)
	}

	// Owners are isolated from each other.
	other := SeedOwner(store)
	if _, err := store.GetDocument(ctx, other.ID, o.Source.ID); err == nil {
		t.Error("another owner must not see the source document")
	}
}
