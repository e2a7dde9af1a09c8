// Package storage persists the domain model in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gastos/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the single store behind the application: users,
// expenses with their contributions and shares, pairwise accounts, and
// server-side sessions.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath
// and applies migrations. Pass ":memory:" for an ephemeral database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite is single-writer; one pooled connection also keeps the
	// in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func isForeignKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// ---- Users ----

func (r *SQLiteRepository) CreateUser(ctx context.Context, name, email, passwordHash, salt string) (*core.User, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO usuarios (nombre, correo, contrasena_hash, sal) VALUES (?, ?, ?, ?)",
		name, email, passwordHash, salt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return r.GetUserByID(ctx, id)
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		"SELECT id, nombre, correo, contrasena_hash, sal FROM usuarios WHERE id = ?", id))
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		"SELECT id, nombre, correo, contrasena_hash, sal FROM usuarios WHERE correo = ?", email))
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Salt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, nombre, correo, contrasena_hash, sal FROM usuarios ORDER BY nombre, id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Salt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user. Users with contributions or shares cannot
// be removed; the foreign keys restrict the delete and the call returns
// core.ErrUserInUse.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM usuarios WHERE id = ?", id)
	if isForeignKeyErr(err) {
		return fmt.Errorf("delete user %d: %w", id, core.ErrUserInUse)
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// ---- Expenses ----

// SaveExpense creates the expense (draft.ID == 0) or updates it in
// place. Contributions and shares are reconciled against the submitted
// rows inside one transaction: submitted users are upserted, users no
// longer present are deleted. Validation failures leave the database
// untouched.
func (r *SQLiteRepository) SaveExpense(ctx context.Context, draft core.ExpenseDraft) (int64, error) {
	if err := draft.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := draft.ID
	if id == 0 {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO gastos (concepto, fecha, sync_status) VALUES (?, ?, 'pending')",
			draft.Concept, draft.Date.UTC())
		if err != nil {
			return 0, fmt.Errorf("insert expense: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("expense id: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			"UPDATE gastos SET concepto = ?, fecha = ?, sync_status = 'pending', updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			draft.Concept, draft.Date.UTC(), id)
		if err != nil {
			return 0, fmt.Errorf("update expense: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("update expense: %w", err)
		}
		if n == 0 {
			return 0, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
		}
	}

	if err := reconcileContributions(ctx, tx, id, draft.Contributions); err != nil {
		return 0, err
	}
	if err := reconcileShares(ctx, tx, id, draft.Shares); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit expense: %w", err)
	}
	return id, nil
}

func reconcileContributions(ctx context.Context, tx *sql.Tx, expenseID int64, inputs []core.ContributionInput) error {
	keep := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO aportes (gasto_id, usuario_id, monto_cents) VALUES (?, ?, ?)
			ON CONFLICT (gasto_id, usuario_id) DO UPDATE SET monto_cents = excluded.monto_cents`,
			expenseID, in.UserID, in.Amount.Cents)
		if isForeignKeyErr(err) {
			return fmt.Errorf("contribution user %d: %w", in.UserID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("upsert contribution: %w", err)
		}
		keep = append(keep, in.UserID)
	}
	return deleteStaleRows(ctx, tx, "aportes", expenseID, keep)
}

func reconcileShares(ctx context.Context, tx *sql.Tx, expenseID int64, inputs []core.ShareInput) error {
	keep := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO participaciones (gasto_id, usuario_id, proporcion) VALUES (?, ?, ?)
			ON CONFLICT (gasto_id, usuario_id) DO UPDATE SET proporcion = excluded.proporcion`,
			expenseID, in.UserID, in.Proportion)
		if isForeignKeyErr(err) {
			return fmt.Errorf("share user %d: %w", in.UserID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("upsert share: %w", err)
		}
		keep = append(keep, in.UserID)
	}
	return deleteStaleRows(ctx, tx, "participaciones", expenseID, keep)
}

// deleteStaleRows removes child rows for users not present in the
// submitted set. table is one of the two fixed child table names, never
// user input.
func deleteStaleRows(ctx context.Context, tx *sql.Tx, table string, expenseID int64, keepUserIDs []int64) error {
	if len(keepUserIDs) == 0 {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE gasto_id = ?", table), expenseID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keepUserIDs)), ",")
	args := make([]any, 0, len(keepUserIDs)+1)
	args = append(args, expenseID)
	for _, id := range keepUserIDs {
		args = append(args, id)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE gasto_id = ? AND usuario_id NOT IN (%s)", table, placeholders)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (*core.Expense, error) {
	var e core.Expense
	err := r.db.QueryRowContext(ctx,
		"SELECT id, concepto, fecha FROM gastos WHERE id = ?", id).
		Scan(&e.ID, &e.Concept, &e.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}

	contributions, shares, err := r.loadChildren(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	e.Contributions = contributions[id]
	e.Shares = shares[id]
	return &e, nil
}

// ListExpenses returns every expense with its contributions and shares,
// ordered by date descending.
func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, concepto, fecha FROM gastos ORDER BY fecha DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var (
		expenses []core.Expense
		ids      []int64
	)
	for rows.Next() {
		var e core.Expense
		if err := rows.Scan(&e.ID, &e.Concept, &e.Date); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	if len(expenses) == 0 {
		return nil, nil
	}

	contributions, shares, err := r.loadChildren(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range expenses {
		expenses[i].Contributions = contributions[expenses[i].ID]
		expenses[i].Shares = shares[expenses[i].ID]
	}
	return expenses, nil
}

func (r *SQLiteRepository) loadChildren(ctx context.Context, expenseIDs []int64) (map[int64][]core.Contribution, map[int64][]core.Share, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(expenseIDs)), ",")
	args := make([]any, len(expenseIDs))
	for i, id := range expenseIDs {
		args[i] = id
	}

	contributions := make(map[int64][]core.Contribution)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT a.id, a.gasto_id, a.usuario_id, u.nombre, a.monto_cents
		FROM aportes a JOIN usuarios u ON u.id = a.usuario_id
		WHERE a.gasto_id IN (%s) ORDER BY a.id`, placeholders), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("load contributions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c         core.Contribution
			expenseID int64
		)
		if err := rows.Scan(&c.ID, &expenseID, &c.UserID, &c.UserName, &c.Amount.Cents); err != nil {
			return nil, nil, fmt.Errorf("scan contribution: %w", err)
		}
		contributions[expenseID] = append(contributions[expenseID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate contributions: %w", err)
	}

	shares := make(map[int64][]core.Share)
	shareRows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.gasto_id, p.usuario_id, u.nombre, p.proporcion
		FROM participaciones p JOIN usuarios u ON u.id = p.usuario_id
		WHERE p.gasto_id IN (%s) ORDER BY p.id`, placeholders), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("load shares: %w", err)
	}
	defer shareRows.Close()
	for shareRows.Next() {
		var (
			s         core.Share
			expenseID int64
		)
		if err := shareRows.Scan(&s.ID, &expenseID, &s.UserID, &s.UserName, &s.Proportion); err != nil {
			return nil, nil, fmt.Errorf("scan share: %w", err)
		}
		shares[expenseID] = append(shares[expenseID], s)
	}
	if err := shareRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate shares: %w", err)
	}

	return contributions, shares, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM gastos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// UserFigures returns every user annotated with their contribution and
// share on the given expense, for pre-filling the expense form. Pass
// zero for a blank form.
func (r *SQLiteRepository) UserFigures(ctx context.Context, expenseID int64) ([]core.UserFigure, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.nombre, a.monto_cents, p.proporcion
		FROM usuarios u
		LEFT JOIN aportes a ON a.usuario_id = u.id AND a.gasto_id = ?
		LEFT JOIN participaciones p ON p.usuario_id = u.id AND p.gasto_id = ?
		ORDER BY u.nombre, u.id`, expenseID, expenseID)
	if err != nil {
		return nil, fmt.Errorf("user figures: %w", err)
	}
	defer rows.Close()

	var figures []core.UserFigure
	for rows.Next() {
		var (
			f      core.UserFigure
			amount sql.NullInt64
			prop   sql.NullFloat64
		)
		if err := rows.Scan(&f.UserID, &f.Name, &amount, &prop); err != nil {
			return nil, fmt.Errorf("scan user figure: %w", err)
		}
		if amount.Valid {
			f.Amount = &core.Money{Cents: amount.Int64}
		}
		if prop.Valid {
			p := prop.Float64
			f.Proportion = &p
		}
		figures = append(figures, f)
	}
	return figures, rows.Err()
}

// ---- Accounts ----

// Toma records that borrower took amount from lender, incrementing the
// balance of the account shared by the pair. The account row is created
// lazily on first use; the sorted-pair key makes the argument order
// irrelevant.
func (r *SQLiteRepository) Toma(ctx context.Context, borrowerID, lenderID int64, amount core.Money) (*core.Account, error) {
	if borrowerID == lenderID {
		return nil, core.ErrSameUser
	}
	low, high := core.PairKey(borrowerID, lenderID)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cuentas (usuario_bajo_id, usuario_alto_id, saldo_cents) VALUES (?, ?, ?)
		ON CONFLICT (usuario_bajo_id, usuario_alto_id) DO UPDATE SET saldo_cents = saldo_cents + excluded.saldo_cents`,
		low, high, amount.Cents)
	if err != nil {
		return nil, fmt.Errorf("increment account: %w", err)
	}
	return r.GetAccount(ctx, borrowerID, lenderID)
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, userA, userB int64) (*core.Account, error) {
	low, high := core.PairKey(userA, userB)
	var a core.Account
	err := r.db.QueryRowContext(ctx,
		"SELECT id, usuario_bajo_id, usuario_alto_id, saldo_cents FROM cuentas WHERE usuario_bajo_id = ? AND usuario_alto_id = ?",
		low, high).
		Scan(&a.ID, &a.UserLowID, &a.UserHighID, &a.Balance.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account (%d,%d): %w", low, high, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// ---- Sessions ----

func (r *SQLiteRepository) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sesiones (token, usuario_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSessionUser resolves a session token to its user. Expired or
// unknown tokens yield core.ErrNotFound.
func (r *SQLiteRepository) GetSessionUser(ctx context.Context, token string) (*core.User, error) {
	var (
		u         core.User
		expiresAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.nombre, u.correo, u.contrasena_hash, u.sal, s.expires_at
		FROM sesiones s JOIN usuarios u ON u.id = s.usuario_id
		WHERE s.token = ?`, token).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Salt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if time.Now().After(expiresAt) {
		return nil, fmt.Errorf("session expired: %w", core.ErrNotFound)
	}
	return &u, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sesiones WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SweepExpiredSessions removes expired sessions and reports how many
// were dropped.
func (r *SQLiteRepository) SweepExpiredSessions(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sesiones WHERE expires_at <= ?", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return res.RowsAffected()
}

// ---- Export sync bookkeeping ----

// PendingExpense is an expense waiting to be exported. EverSynced
// reports whether the journal already has a row for it, so a recovered
// expense can be labeled as a create or an update.
type PendingExpense struct {
	ID         int64
	EverSynced bool
}

// GetPendingSyncExpenses returns expenses not yet exported, oldest
// first. Used by the worker backstop in case events are lost.
func (r *SQLiteRepository) GetPendingSyncExpenses(ctx context.Context, limit int) ([]PendingExpense, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, last_synced_at IS NOT NULL FROM gastos WHERE sync_status = 'pending' ORDER BY updated_at, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("pending sync expenses: %w", err)
	}
	defer rows.Close()

	var pending []PendingExpense
	for rows.Next() {
		var p PendingExpense
		if err := rows.Scan(&p.ID, &p.EverSynced); err != nil {
			return nil, fmt.Errorf("scan pending expense: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE gastos SET sync_status = 'synced', last_synced_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE gastos SET sync_status = 'error' WHERE id = ?", id); err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	return nil
}
