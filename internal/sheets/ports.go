// Package sheets defines the outbound export port and the row format
// written to the household spreadsheet.
package sheets

import (
	"context"
	"time"

	"gastos/internal/core"
)

// ExportRow is one journal line in the export: a snapshot of an expense
// at the moment it changed. The journal is append-only; deletions are
// recorded as rows too.
type ExportRow struct {
	ExpenseID     int64
	Action        string // created, updated, deleted
	Concept       string
	Date          time.Time
	Total         core.Money
	Payers        string
	Beneficiaries string
}

// ExpenseExporter appends one row to the export journal and returns an
// adapter-specific reference for the written row.
type ExpenseExporter interface {
	Append(ctx context.Context, row ExportRow) (ref string, err error)
}
