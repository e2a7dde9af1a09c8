// Package worker exports expense changes to the spreadsheet journal.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/sheets"
	"gastos/internal/storage"
)

// ExportWorker appends one journal row per expense change. Create and
// update events snapshot the current expense; delete events record a
// tombstone row, since the journal is append-only.
type ExportWorker struct {
	storage   *storage.SQLiteRepository
	exporter  sheets.ExpenseExporter
	batchSize int
}

func NewExportWorker(storage *storage.SQLiteRepository, exporter sheets.ExpenseExporter, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		storage:   storage,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleExpenseEvent processes a single expense event from AMQP.
func (w *ExportWorker) HandleExpenseEvent(ctx context.Context, msg *amqp.ExpenseEventMessage) error {
	slog.InfoContext(ctx, "Processing expense event",
		"id", msg.ID,
		"action", msg.Action)

	if msg.Action == amqp.ActionDeleted {
		return w.exportTombstone(ctx, msg)
	}

	expense, err := w.storage.GetExpense(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Deleted between the event and now. The delete event will
			// carry its own row; nothing to export here.
			slog.WarnContext(ctx, "Expense gone before export", "id", msg.ID)
			return nil
		}
		return fmt.Errorf("get expense from storage: %w", err)
	}

	return w.exportExpense(ctx, msg.Action, *expense)
}

func (w *ExportWorker) exportExpense(ctx context.Context, action string, expense core.Expense) error {
	row := sheets.ExportRow{
		ExpenseID:     expense.ID,
		Action:        action,
		Concept:       expense.Concept,
		Date:          expense.Date,
		Total:         expense.Total(),
		Payers:        expense.PayerNames(),
		Beneficiaries: expense.BeneficiaryNames(),
	}

	ref, err := w.exporter.Append(ctx, row)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, expense.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", expense.ID, "error", markErr)
		}
		return fmt.Errorf("append to export journal: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, expense.ID); err != nil {
		// The export itself worked; only the bookkeeping failed.
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", expense.ID, "error", err)
	}

	slog.InfoContext(ctx, "Expense exported",
		"id", expense.ID,
		"action", action,
		"export_ref", ref,
		"total_cents", expense.Total().Cents)

	return nil
}

func (w *ExportWorker) exportTombstone(ctx context.Context, msg *amqp.ExpenseEventMessage) error {
	row := sheets.ExportRow{
		ExpenseID: msg.ID,
		Action:    amqp.ActionDeleted,
		Date:      msg.Timestamp,
	}
	ref, err := w.exporter.Append(ctx, row)
	if err != nil {
		return fmt.Errorf("append tombstone to export journal: %w", err)
	}
	slog.InfoContext(ctx, "Expense deletion exported", "id", msg.ID, "export_ref", ref)
	return nil
}

// ProcessPendingExpenses exports expenses whose event never arrived.
// This is a backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPendingExpenses(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncExpenses(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending expenses: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending expenses", "count", len(pending))

	for _, p := range pending {
		expense, err := w.storage.GetExpense(ctx, p.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get pending expense", "id", p.ID, "error", err)
			if err := w.storage.MarkSyncError(ctx, p.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error", "id", p.ID, "error", err)
			}
			continue
		}
		if err := w.exportExpense(ctx, recoveryAction(p), *expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending expense", "id", p.ID, "error", err)
		}
	}

	return nil
}

// recoveryAction labels a backstop export. An expense the journal has
// never seen gets its created row; anything else is an update.
func recoveryAction(p storage.PendingExpense) string {
	if p.EverSynced {
		return amqp.ActionUpdated
	}
	return amqp.ActionCreated
}

// StartupSyncCheck drains the pending backlog once at worker startup,
// recovering from missed events or worker downtime.
func (w *ExportWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncExpenses(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending expenses for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending expenses found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending expenses on startup", "count", len(pending))

	synced := 0
	failed := 0
	for _, p := range pending {
		expense, err := w.storage.GetExpense(ctx, p.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get expense for startup export", "id", p.ID, "error", err)
			if err := w.storage.MarkSyncError(ctx, p.ID); err != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error", "id", p.ID, "error", err)
			}
			failed++
			continue
		}
		if err := w.exportExpense(ctx, recoveryAction(p), *expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export expense during startup", "id", p.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)

	return nil
}

// Run consumes expense events until the context ends, draining the
// pending backlog on a timer as a safety net.
func (w *ExportWorker) Run(ctx context.Context, consumer EventConsumer, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := w.StartupSyncCheck(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup sync check failed", "error", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- consumer.ConsumeExpenseEvents(ctx, func(msg *amqp.ExpenseEventMessage) error {
			return w.HandleExpenseEvent(ctx, msg)
		})
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case <-ticker.C:
			if err := w.ProcessPendingExpenses(ctx); err != nil {
				slog.ErrorContext(ctx, "Pending expense pass failed", "error", err)
			}
		}
	}
}

// EventConsumer is the queue side the worker reads from.
type EventConsumer interface {
	ConsumeExpenseEvents(ctx context.Context, handler func(*amqp.ExpenseEventMessage) error) error
}
