package numbering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		format string
		prefix string
		seq    int
		want   string
	}{
		{"F-{YEAR}-{SEQ}", "F", 7, "F-2024-7"},
		{"{PREFIX}-{YEAR}-{SEQ:4}", "INV", 42, "INV-2024-0042"},
		{"{SEQ:2}", "", 12345, "12345"},
		{"Q{SEQ:3}/{YEAR}", "", 5, "Q005/2024"},
		{"static", "F", 1, "static"},
		{"{SEQ}-{SEQ}", "", 3, "3-3"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.format, tt.prefix, tt.seq, 2024))
		})
	}
}

type fakeCounterStore struct {
	mu       sync.Mutex
	counters map[domain.DocumentType]int
	err      error
}

func (s *fakeCounterStore) AdvanceCounter(ctx context.Context, ownerID uuid.UUID, docType domain.DocumentType, from int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.counters[docType] != from {
		return false, nil
	}
	s.counters[docType] = from + 1
	return true, nil
}

func TestAllocator_AllocateUsesSettings(t *testing.T) {
	owner := uuid.New()
	settings := domain.DefaultCompanySettings(owner)
	settings.InvoiceNumberFormat = "{PREFIX}{YEAR}-{SEQ:3}"
	settings.InvoiceNumberPrefix = "AC"
	settings.InvoiceNumberNext = 9

	a := NewAllocator(&fakeCounterStore{})
	alloc := a.Allocate(settings, domain.DocumentTypeInvoice, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "AC2025-009", alloc.Number)
	assert.Equal(t, 9, alloc.Sequence)
	assert.Equal(t, owner, alloc.OwnerID)
	assert.Equal(t, domain.DocumentTypeInvoice, alloc.Type)
}

func TestAllocator_CommitIsCompareAndSet(t *testing.T) {
	store := &fakeCounterStore{counters: map[domain.DocumentType]int{domain.DocumentTypeQuote: 4}}
	a := NewAllocator(store)
	alloc := Allocation{OwnerID: uuid.New(), Type: domain.DocumentTypeQuote, Sequence: 4}

	require.NoError(t, a.Commit(context.Background(), alloc))
	assert.Equal(t, 5, store.counters[domain.DocumentTypeQuote])

	// A second commit of the same allocation must not move the counter again.
	require.NoError(t, a.Commit(context.Background(), alloc))
	assert.Equal(t, 5, store.counters[domain.DocumentTypeQuote])
}

func TestAllocator_CommitPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("connection reset")
	a := NewAllocator(&fakeCounterStore{err: storeErr})

	err := a.Commit(context.Background(), Allocation{Type: domain.DocumentTypeInvoice, Sequence: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
}
