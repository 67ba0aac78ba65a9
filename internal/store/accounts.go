// Package store persists fleet accounts and the run audit log in postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

const component = "fleet.store"

const accountColumns = `id, phone, session, owner_id, api_id, api_hash, name, username, status, created_at, last_checked_at`

// uniqueViolation is the postgres SQLSTATE for a unique constraint.
const uniqueViolation = "23505"

// Accounts is the sqlx implementation of fleet.AccountStore.
type Accounts struct {
	db *sqlx.DB
}

// NewAccounts wraps db.
func NewAccounts(db *sqlx.DB) *Accounts {
	return &Accounts{db: db}
}

var _ fleet.AccountStore = (*Accounts)(nil)

// Find returns the accounts matching f ordered by id.
func (s *Accounts) Find(ctx context.Context, f fleet.Filter) ([]fleet.Account, error) {
	where, args, err := whereClause(f)
	if err != nil {
		return nil, err
	}
	q := s.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts` + where + ` ORDER BY id`)
	var out []fleet.Account
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("store: find accounts: %w", err)
	}
	return out, nil
}

// Get returns one account or fleet.ErrNotFound.
func (s *Accounts) Get(ctx context.Context, id int64) (fleet.Account, error) {
	var a fleet.Account
	err := s.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.Account{}, fleet.ErrNotFound
	}
	if err != nil {
		return fleet.Account{}, fmt.Errorf("store: get account %d: %w", id, err)
	}
	return a, nil
}

// Insert stores a new account and sets its id. A second account with the
// same phone returns fleet.ErrDuplicate.
func (s *Accounts) Insert(ctx context.Context, a *fleet.Account) error {
	if a.Status == "" {
		a.Status = fleet.StatusActive
	}
	rows, err := s.db.NamedQueryContext(ctx, `
		INSERT INTO accounts (phone, session, owner_id, api_id, api_hash, name, username, status, created_at)
		VALUES (:phone, :session, :owner_id, :api_id, :api_hash, :name, :username, :status, :created_at)
		RETURNING id`, a)
	if err != nil {
		if isUnique(err) {
			return fleet.ErrDuplicate
		}
		return fmt.Errorf("store: insert account: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&a.ID); err != nil {
			return fmt.Errorf("store: insert account: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: insert account: %w", err)
	}
	logger.Info(ctx, component, "account.insert",
		slog.Int64("account_id", a.ID),
		slog.Int64("owner_id", a.OwnerID),
		slog.String("phone", logger.MaskPhone(a.Phone)),
	)
	return nil
}

// UpdateOne applies p to account id. An empty patch is a no-op.
func (s *Accounts) UpdateOne(ctx context.Context, id int64, p fleet.Patch) error {
	set, args := setClause(p)
	if set == "" {
		return nil
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE accounts SET %s WHERE id = $%d`, set, len(args))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("store: update account %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fleet.ErrNotFound
	}
	return nil
}

// DeleteOne removes account id.
func (s *Accounts) DeleteOne(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete account %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fleet.ErrNotFound
	}
	logger.Info(ctx, component, "account.delete", slog.Int64("account_id", id))
	return nil
}

// CountBy counts the accounts matching f.
func (s *Accounts) CountBy(ctx context.Context, f fleet.Filter) (int, error) {
	where, args, err := whereClause(f)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT count(*) FROM accounts`+where), args...); err != nil {
		return 0, fmt.Errorf("store: count accounts: %w", err)
	}
	return n, nil
}

// CountByStatus groups the owner's accounts by status.
func (s *Accounts) CountByStatus(ctx context.Context, ownerID int64) (map[fleet.Status]int, error) {
	var rows []struct {
		Status fleet.Status `db:"status"`
		N      int          `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, count(*) AS n FROM accounts WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: count by status: %w", err)
	}
	out := make(map[fleet.Status]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// whereClause renders f with "?" placeholders; callers Rebind.
func whereClause(f fleet.Filter) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	if f.OwnerID != 0 {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Phone != "" {
		conds = append(conds, "phone = ?")
		args = append(args, f.Phone)
	}
	if len(f.IDs) > 0 {
		in, inArgs, err := sqlx.In("id IN (?)", f.IDs)
		if err != nil {
			return "", nil, fmt.Errorf("store: filter ids: %w", err)
		}
		conds = append(conds, in)
		args = append(args, inArgs...)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// setClause renders the non-nil patch fields with $n placeholders.
func setClause(p fleet.Patch) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Username != nil {
		add("username", *p.Username)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Session != nil {
		add("session", *p.Session)
	}
	if p.LastCheckedAt != nil {
		add("last_checked_at", *p.LastCheckedAt)
	}
	return strings.Join(sets, ", "), args
}

func isUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
