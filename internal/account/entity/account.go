package entity

import "time"

// Account is one registrant as persisted by every store adapter.
// Token fields come in pairs: a token is present exactly when its expiry is.
type Account struct {
	ID                 string     `db:"id" bson:"_id"`
	FirstName          string     `db:"first_name" bson:"first_name"`
	LastName           string     `db:"last_name" bson:"last_name"`
	Email              string     `db:"email" bson:"email"`
	CredentialHash     string     `db:"credential_hash" bson:"credential_hash"`
	AccountType        string     `db:"account_type" bson:"account_type"`
	Verified           bool       `db:"verified" bson:"verified"`
	VerificationToken  *string    `db:"verification_token" bson:"verification_token,omitempty"`
	VerificationExpiry *time.Time `db:"verification_expiry" bson:"verification_expiry,omitempty"`
	ResetToken         *string    `db:"reset_token" bson:"reset_token,omitempty"`
	ResetExpiry        *time.Time `db:"reset_expiry" bson:"reset_expiry,omitempty"`
	CreatedAt          time.Time  `db:"created_at" bson:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" bson:"updated_at"`
}

// Profile is the projection safe to hand to clients.
type Profile struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	AccountType string    `json:"account_type"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile strips the credential hash and every pending token.
func (a *Account) Profile() Profile {
	return Profile{
		ID:          a.ID,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Email:       a.Email,
		AccountType: a.AccountType,
		Verified:    a.Verified,
		CreatedAt:   a.CreatedAt,
	}
}

// PendingVerification reports whether a verification token is outstanding.
func (a *Account) PendingVerification() bool {
	return a.VerificationToken != nil && *a.VerificationToken != ""
}

// VerificationExpired reports whether the pending verification token is no
// longer usable at now. A missing expiry counts as expired.
func (a *Account) VerificationExpired(now time.Time) bool {
	return a.VerificationExpiry == nil || !a.VerificationExpiry.After(now)
}
