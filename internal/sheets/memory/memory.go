package memory

import (
	"context"
	"fmt"
	"sync"

	"gastos/internal/sheets"
)

// Store is an in-memory ExpenseExporter used in tests and local
// development when no spreadsheet is configured.
type Store struct {
	mu   sync.Mutex
	rows []sheets.ExportRow
}

func New() *Store {
	return &Store{}
}

// Append records the row and returns a synthetic reference.
func (s *Store) Append(_ context.Context, row sheets.ExportRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []sheets.ExportRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sheets.ExportRow, len(s.rows))
	copy(out, s.rows)
	return out
}
