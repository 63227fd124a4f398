package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

const accountColumns = `id, first_name, last_name, email, credential_hash, account_type, verified,
	verification_token, verification_expiry, reset_token, reset_expiry, created_at, updated_at`

const (
	// uniqueViolation is the SQLSTATE postgres returns for a unique constraint hit.
	uniqueViolation = "23505"
	emailConstraint = "accounts_email_key"
)

// PgRepo stores accounts in the postgres accounts table (see migrations/).
type PgRepo struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PgRepo { return &PgRepo{db: db} }

// FindOne returns the first account matching f or ErrNotFound.
func (r *PgRepo) FindOne(ctx context.Context, f Filter) (*entity.Account, error) {
	where, args, err := pgWhere(f, nil)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + ` LIMIT 1`
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// InsertOne inserts a new account row. The unique email constraint decides
// concurrent registrations; the loser gets ErrDuplicateEmail.
func (r *PgRepo) InsertOne(ctx context.Context, a *entity.Account) (string, error) {
	if a.ID == "" {
		a.ID = utilities.NewSnowflakeID()
	}
	const q = `INSERT INTO accounts (id, first_name, last_name, email, credential_hash, account_type, verified,
		verification_token, verification_expiry, reset_token, reset_expiry)
		VALUES (:id, :first_name, :last_name, :email, :credential_hash, :account_type, :verified,
		:verification_token, :verification_expiry, :reset_token, :reset_expiry)
		RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, a)
	if err != nil {
		if isEmailConflict(err) {
			return "", ErrDuplicateEmail
		}
		return "", err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
			return "", err
		}
		return a.ID, nil
	}
	if err := rows.Err(); err != nil {
		if isEmailConflict(err) {
			return "", ErrDuplicateEmail
		}
		return "", err
	}
	return "", errors.New("no row returned")
}

// UpdateOne applies u to the account matching f in a single UPDATE, so the
// filter doubles as the compare half of a compare-and-set.
func (r *PgRepo) UpdateOne(ctx context.Context, f Filter, u Update) (bool, error) {
	set, args := pgSet(u)
	where, args, err := pgWhere(f, args)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET `+set+` WHERE `+where, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PgRepo) DeleteOne(ctx context.Context, f Filter) (bool, error) {
	where, args, err := pgWhere(f, nil)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE `+where, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PgRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *PgRepo) Close() error { return r.db.Close() }

// pgWhere renders f as a conjunction of positional predicates, numbering
// placeholders after the args already collected.
func pgWhere(f Filter, args []any) (string, []any, error) {
	if f.empty() {
		return "", nil, ErrEmptyFilter
	}
	var preds []string
	add := func(pred string, v any) {
		args = append(args, v)
		preds = append(preds, fmt.Sprintf(pred, len(args)))
	}
	if f.ID != "" {
		add("id = $%d", f.ID)
	}
	if f.Email != "" {
		add("email = $%d", f.Email)
	}
	if f.VerificationToken != "" {
		add("verification_token = $%d", f.VerificationToken)
	}
	if f.ResetToken != "" {
		add("reset_token = $%d", f.ResetToken)
	}
	if f.CredentialHash != "" {
		add("credential_hash = $%d", f.CredentialHash)
	}
	if f.Unverified {
		preds = append(preds, "verified = false")
	}
	if !f.ResetValidAt.IsZero() {
		add("reset_expiry > $%d", f.ResetValidAt)
	}
	return strings.Join(preds, " AND "), args, nil
}

func pgSet(u Update) (string, []any) {
	var (
		cols []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		cols = append(cols, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Set.Verified != nil {
		add("verified", *u.Set.Verified)
	}
	if u.Set.CredentialHash != nil {
		add("credential_hash", *u.Set.CredentialHash)
	}
	if u.Set.ResetToken != nil {
		add("reset_token", *u.Set.ResetToken)
	}
	if u.Set.ResetExpiry != nil {
		add("reset_expiry", *u.Set.ResetExpiry)
	}
	if u.UnsetVerification {
		cols = append(cols, "verification_token = NULL", "verification_expiry = NULL")
	}
	if u.UnsetReset {
		cols = append(cols, "reset_token = NULL", "reset_expiry = NULL")
	}
	cols = append(cols, "updated_at = NOW()")
	return strings.Join(cols, ", "), args
}

func isEmailConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == emailConstraint
}
