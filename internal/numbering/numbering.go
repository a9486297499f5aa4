// Package numbering allocates per-owner, per-type document numbers.
//
// Allocation is split in two steps. Allocate reads the counter and formats a
// number without side effects; Commit advances the counter with a
// compare-and-set once the document holding the number is stored. A crash
// between the two leaves the counter behind, which the next allocation
// detects as a number collision and repairs with Skip.
package numbering

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

type Store interface {
	// AdvanceCounter sets the counter for (owner, type) to from+1 if it is
	// currently from. It reports whether the counter moved.
	AdvanceCounter(ctx context.Context, ownerID uuid.UUID, docType domain.DocumentType, from int) (bool, error)
}

// Allocation is a formatted number that has not been committed yet.
type Allocation struct {
	OwnerID  uuid.UUID
	Type     domain.DocumentType
	Sequence int
	Number   string
}

type Allocator struct {
	store Store
}

func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// Allocate formats the next number for docType from the owner's settings.
func (a *Allocator) Allocate(settings domain.CompanySettings, docType domain.DocumentType, now time.Time) Allocation {
	format, prefix, next := settings.NumberingFor(docType)
	return Allocation{
		OwnerID:  settings.OwnerID,
		Type:     docType,
		Sequence: next,
		Number:   Format(format, prefix, next, now.UTC().Year()),
	}
}

// Commit advances the counter past alloc. A counter that already moved is
// not an error: another writer advanced it and no number is reused.
func (a *Allocator) Commit(ctx context.Context, alloc Allocation) error {
	if _, err := a.store.AdvanceCounter(ctx, alloc.OwnerID, alloc.Type, alloc.Sequence); err != nil {
		return errors.Wrapf(err, "advance %s counter from %d", alloc.Type, alloc.Sequence)
	}
	return nil
}

// Skip moves the counter past a number that turned out to be in use.
func (a *Allocator) Skip(ctx context.Context, alloc Allocation) error {
	return a.Commit(ctx, alloc)
}

var seqWidth = regexp.MustCompile(`\{SEQ:(\d+)\}`)

// Format expands {PREFIX}, {YEAR}, {SEQ} and {SEQ:N} (zero padded to N
// digits) in format.
func Format(format, prefix string, seq, year int) string {
	out := strings.ReplaceAll(format, "{PREFIX}", prefix)
	out = strings.ReplaceAll(out, "{YEAR}", strconv.Itoa(year))
	out = seqWidth.ReplaceAllStringFunc(out, func(tok string) string {
		width, err := strconv.Atoi(seqWidth.FindStringSubmatch(tok)[1])
		if err != nil || width > 18 {
			return strconv.Itoa(seq)
		}
		s := strconv.Itoa(seq)
		if len(s) < width {
			s = strings.Repeat("0", width-len(s)) + s
		}
		return s
	})
	return strings.ReplaceAll(out, "{SEQ}", strconv.Itoa(seq))
}
