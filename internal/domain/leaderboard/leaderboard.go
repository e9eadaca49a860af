// Package leaderboard turns approved placement records into a ranked board.
//
// Ordering: total DESC, then entity id ASC, then kind ASC. Rank is the
// 1-based position in that order and is recomputed on every
// materialization; it is never stored.
package leaderboard

import (
	"sort"

	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/internal/domain/scoring"
	"github.com/okian/festboard/internal/domain/types"
)

// Ref identifies one entity on the board.
type Ref struct {
	Kind model.EntityKind
	ID   string
}

// RefOf returns the entity a record belongs to.
func RefOf(r model.Record) Ref { return Ref{Kind: r.EntityKind, ID: r.EntityID} }

// Board is an immutable ranked snapshot.
type Board struct {
	entries []types.Entry
	index   map[Ref]int
}

// Len returns the number of ranked entities.
func (b *Board) Len() int { return len(b.entries) }

// Entries returns a copy of all rows in rank order.
func (b *Board) Entries() []types.Entry {
	out := make([]types.Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Top returns at most n rows in rank order. n < 1 returns every row.
func (b *Board) Top(n int) []types.Entry {
	if n < 1 || n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]types.Entry, n)
	copy(out, b.entries[:n])
	return out
}

// Lookup returns the row for one entity.
func (b *Board) Lookup(ref Ref) (types.Entry, bool) {
	i, ok := b.index[ref]
	if !ok {
		return types.Entry{}, false
	}
	return b.entries[i], true
}

// Option tunes one materialization.
type Option func(*query)

type query struct {
	kind  model.EntityKind
	known []Ref
}

// WithKind restricts the board to one entity kind.
func WithKind(kind model.EntityKind) Option {
	return func(q *query) { q.kind = kind }
}

// WithEntities adds entities that have no approved record as zero rows,
// producing the all-entities view.
func WithEntities(refs []Ref) Option {
	return func(q *query) { q.known = append(q.known, refs...) }
}

// Aggregator materializes boards with a rule table.
type Aggregator struct {
	table scoring.Table
}

// New returns an Aggregator using the default rule table.
func New() *Aggregator {
	return &Aggregator{table: scoring.Default()}
}

// Materialize recomputes a board from one snapshot of records. Only
// approved records count, and each record id counts at most once, so a
// snapshot that repeats a record cannot inflate a total.
func (a *Aggregator) Materialize(records []model.Record, opts ...Option) *Board {
	var q query
	for _, opt := range opts {
		opt(&q)
	}

	totals := make(map[Ref]int)
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.Status != model.StatusApproved {
			continue
		}
		if q.kind != "" && r.EntityKind != q.kind {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		totals[RefOf(r)] += a.table.Score(r)
	}
	for _, ref := range q.known {
		if q.kind != "" && ref.Kind != q.kind {
			continue
		}
		if _, ok := totals[ref]; !ok {
			totals[ref] = 0
		}
	}

	entries := make([]types.Entry, 0, len(totals))
	for ref, total := range totals {
		entries = append(entries, types.Entry{EntityID: ref.ID, EntityKind: ref.Kind, TotalScore: total})
	}
	sortEntries(entries)

	index := make(map[Ref]int, len(entries))
	for i := range entries {
		entries[i].Rank = i + 1
		index[Ref{Kind: entries[i].EntityKind, ID: entries[i].EntityID}] = i
	}
	return &Board{entries: entries, index: index}
}

// Diff returns the rows of after whose total or rank differs from before,
// in rank order. A nil before treats every row as changed.
func Diff(before, after *Board) []types.Entry {
	var out []types.Entry
	for _, e := range after.entries {
		if before != nil {
			if prev, ok := before.Lookup(Ref{Kind: e.EntityKind, ID: e.EntityID}); ok &&
				prev.TotalScore == e.TotalScore && prev.Rank == e.Rank {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// less reports whether a ranks before b.
func less(a, b types.Entry) bool {
	if a.TotalScore != b.TotalScore {
		return a.TotalScore > b.TotalScore
	}
	if a.EntityID != b.EntityID {
		return a.EntityID < b.EntityID
	}
	return a.EntityKind < b.EntityKind
}

func sortEntries(entries []types.Entry) {
	sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
}
