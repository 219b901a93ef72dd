package engine

import (
	"context"
	"iter"
	"sort"
)

// MemoryReader serves sequence tables held in memory.
type MemoryReader struct {
	tables map[TableKind][]SequenceEntry
}

// NewMemoryReader creates a reader over copies of tables.
func NewMemoryReader(tables map[TableKind][]SequenceEntry) *MemoryReader {
	r := &MemoryReader{tables: make(map[TableKind][]SequenceEntry, len(tables))}
	for kind, rows := range tables {
		r.tables[kind] = append([]SequenceEntry(nil), rows...)
	}
	return r
}

// Read implements SequenceReader.
func (r *MemoryReader) Read(ctx context.Context, table TableKind) iter.Seq[SequenceEntry] {
	return func(yield func(SequenceEntry) bool) {
		rows := make([]SequenceEntry, 0, len(r.tables[table]))
		for _, row := range r.tables[table] {
			if row.Sequence > 0 {
				rows = append(rows, row)
			}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Sequence < rows[j].Sequence
		})
		for _, row := range rows {
			if ctx.Err() != nil || !yield(row) {
				return
			}
		}
	}
}

// Lookup implements SequenceReader.
func (r *MemoryReader) Lookup(ctx context.Context, table TableKind, sequence int) iter.Seq[SequenceEntry] {
	return func(yield func(SequenceEntry) bool) {
		for _, row := range r.tables[table] {
			if row.Sequence != sequence {
				continue
			}
			if ctx.Err() != nil || !yield(row) {
				return
			}
		}
	}
}
