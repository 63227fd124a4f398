package repo

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

// MemoryRepo keeps accounts in process memory. Every method holds one mutex,
// which gives the same single-statement atomicity as the database adapters.
type MemoryRepo struct {
	mu       sync.Mutex
	accounts map[string]*entity.Account
	now      func() time.Time
}

func NewMemory() *MemoryRepo {
	return &MemoryRepo{accounts: make(map[string]*entity.Account), now: time.Now}
}

func (r *MemoryRepo) FindOne(ctx context.Context, f Filter) (*entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.find(f)
	if a == nil {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryRepo) InsertOne(ctx context.Context, a *entity.Account) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Email == a.Email {
			return "", ErrDuplicateEmail
		}
	}
	if a.ID == "" {
		a.ID = utilities.NewSnowflakeID()
	}
	now := r.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.accounts[a.ID] = clone(a)
	return a.ID, nil
}

func (r *MemoryRepo) UpdateOne(ctx context.Context, f Filter, u Update) (bool, error) {
	if f.empty() {
		return false, ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.find(f)
	if a == nil {
		return false, nil
	}
	if u.Set.Verified != nil {
		a.Verified = *u.Set.Verified
	}
	if u.Set.CredentialHash != nil {
		a.CredentialHash = *u.Set.CredentialHash
	}
	if u.Set.ResetToken != nil {
		a.ResetToken = strPtr(*u.Set.ResetToken)
	}
	if u.Set.ResetExpiry != nil {
		a.ResetExpiry = timePtr(*u.Set.ResetExpiry)
	}
	if u.UnsetVerification {
		a.VerificationToken, a.VerificationExpiry = nil, nil
	}
	if u.UnsetReset {
		a.ResetToken, a.ResetExpiry = nil, nil
	}
	a.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepo) DeleteOne(ctx context.Context, f Filter) (bool, error) {
	if f.empty() {
		return false, ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.find(f)
	if a == nil {
		return false, nil
	}
	delete(r.accounts, a.ID)
	return true, nil
}

func (r *MemoryRepo) Ping(ctx context.Context) error { return ctx.Err() }

func (r *MemoryRepo) Close() error { return nil }

// Len is used by tests to assert on store size.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

func (r *MemoryRepo) find(f Filter) *entity.Account {
	if f.empty() {
		return nil
	}
	for _, a := range r.accounts {
		if matches(a, f) {
			return a
		}
	}
	return nil
}

func matches(a *entity.Account, f Filter) bool {
	if f.ID != "" && a.ID != f.ID {
		return false
	}
	if f.Email != "" && a.Email != f.Email {
		return false
	}
	if f.VerificationToken != "" && (a.VerificationToken == nil || *a.VerificationToken != f.VerificationToken) {
		return false
	}
	if f.ResetToken != "" && (a.ResetToken == nil || *a.ResetToken != f.ResetToken) {
		return false
	}
	if f.CredentialHash != "" && a.CredentialHash != f.CredentialHash {
		return false
	}
	if f.Unverified && a.Verified {
		return false
	}
	if !f.ResetValidAt.IsZero() && (a.ResetExpiry == nil || !a.ResetExpiry.After(f.ResetValidAt)) {
		return false
	}
	return true
}

func clone(a *entity.Account) *entity.Account {
	c := *a
	if a.VerificationToken != nil {
		c.VerificationToken = strPtr(*a.VerificationToken)
	}
	if a.VerificationExpiry != nil {
		c.VerificationExpiry = timePtr(*a.VerificationExpiry)
	}
	if a.ResetToken != nil {
		c.ResetToken = strPtr(*a.ResetToken)
	}
	if a.ResetExpiry != nil {
		c.ResetExpiry = timePtr(*a.ResetExpiry)
	}
	return &c
}

func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }
