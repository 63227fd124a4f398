// Package repo holds the credential store contract and its adapters
// (PostgreSQL via sqlx, MongoDB, in-memory).
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrEmptyFilter guards against updates or deletes that would match every record.
	ErrEmptyFilter = errors.New("empty filter")
)

// Filter selects an account. Non-zero fields are ANDed together.
type Filter struct {
	ID                string
	Email             string
	VerificationToken string
	ResetToken        string
	// CredentialHash pins the current credential, turning a write into a
	// compare-and-set. It never selects a record on its own.
	CredentialHash string
	// Unverified restricts the match to accounts with verified=false.
	Unverified bool
	// ResetValidAt, when set, requires reset_expiry > ResetValidAt.
	ResetValidAt time.Time
}

func (f Filter) empty() bool {
	return f.ID == "" && f.Email == "" && f.VerificationToken == "" && f.ResetToken == ""
}

// Fields are the mutable columns; nil means "leave unchanged".
type Fields struct {
	Verified       *bool
	CredentialHash *string
	ResetToken     *string
	ResetExpiry    *time.Time
}

// Update describes a single-record change. Unset flags clear a token together
// with its expiry.
type Update struct {
	Set               Fields
	UnsetVerification bool
	UnsetReset        bool
}

// Store is the persistence contract of the account lifecycle.
// UpdateOne and DeleteOne apply the filter and the change in one atomic
// statement and report whether a record matched.
type Store interface {
	FindOne(ctx context.Context, f Filter) (*entity.Account, error)
	InsertOne(ctx context.Context, a *entity.Account) (string, error)
	UpdateOne(ctx context.Context, f Filter, u Update) (bool, error)
	DeleteOne(ctx context.Context, f Filter) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
