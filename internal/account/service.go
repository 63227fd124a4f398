// Package account implements the account lifecycle: registration with email
// verification, login and password reset.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account/internal/notify"
	"github.com/ovaphlow/pitchfork/service-account/internal/token"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

const compensationTimeout = 5 * time.Second

// ErrUnknownAccount is returned by Account when no record has the id.
var ErrUnknownAccount = errors.New("account not found")

type Options struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	// PublicBaseURL is the origin email links point at.
	PublicBaseURL string
	Now           func() time.Time
	Hasher        PasswordHasher
}

type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	AccountType string
}

type RegisterResult struct {
	Account entity.Profile
	// VerificationToken is what the verification email carried.
	VerificationToken string
}

type LoginResult struct {
	Account      entity.Profile
	SessionToken string
	ExpiresAt    time.Time
}

// Service is stateless between calls; all durable state lives in the store.
type Service struct {
	store     repo.Store
	tokens    *token.Issuer
	sender    notify.Sender
	render    *notify.Renderer
	hasher    PasswordHasher
	verifyTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
	logger    *zap.SugaredLogger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store repo.Store, tokens *token.Issuer, sender notify.Sender, opts Options, logger *zap.SugaredLogger) (*Service, error) {
	if store == nil || tokens == nil || sender == nil {
		return nil, errors.New("account service: missing dependency")
	}
	render, err := notify.NewRenderer(opts.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	if opts.VerificationTTL <= 0 {
		opts.VerificationTTL = 24 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hasher == nil {
		opts.Hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:     store,
		tokens:    tokens,
		sender:    sender,
		render:    render,
		hasher:    opts.Hasher,
		verifyTTL: opts.VerificationTTL,
		resetTTL:  opts.ResetTTL,
		now:       opts.Now,
		logger:    logger,
	}, nil
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Register creates an unverified account and sends its verification email.
// When the email cannot be sent the account is deleted again, so a failed
// registration leaves nothing behind.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *RegisterResult, err error) {
	defer func() { observe("register", err) }()

	email := utilities.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, ErrInvalidInput
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordBytes)
	}

	if _, err := s.store.FindOne(ctx, repo.Filter{Email: email}); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, storeErr(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	tok, err := token.NewOneTime()
	if err != nil {
		return nil, err
	}
	expiry := s.clock().Add(s.verifyTTL)
	acc := &entity.Account{
		FirstName:          utilities.PlainText(in.FirstName),
		LastName:           utilities.PlainText(in.LastName),
		Email:              email,
		CredentialHash:     hash,
		AccountType:        utilities.PlainText(in.AccountType),
		Verified:           false,
		VerificationToken:  &tok,
		VerificationExpiry: &expiry,
	}
	if _, err := s.store.InsertOne(ctx, acc); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, ErrConflict
		}
		return nil, storeErr(err)
	}

	if err := s.sendVerification(ctx, acc, tok); err != nil {
		s.logger.Warnw("verification email failed, rolling back registration", "email", email, "account_id", acc.ID, "err", err)
		s.compensate(ctx, acc, tok)
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	}

	s.logger.Infow("account registered", "account_id", acc.ID, "email", email)
	return &RegisterResult{Account: acc.Profile(), VerificationToken: tok}, nil
}

func (s *Service) sendVerification(ctx context.Context, acc *entity.Account, tok string) error {
	msg, err := s.render.Verification(acc.FirstName, tok, s.verifyTTL)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, acc.Email, msg.Subject, msg.HTML)
}

// compensate deletes the record Register just inserted. The filter pins the
// pending token as well as the email so no other record can be removed.
func (s *Service) compensate(ctx context.Context, acc *entity.Account, tok string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	deleted, err := s.store.DeleteOne(ctx, repo.Filter{Email: acc.Email, VerificationToken: tok})
	switch {
	case err != nil:
		s.logger.Errorw("compensating delete failed; account left unreachable",
			"account_id", acc.ID, "email", acc.Email, "err", err)
	case !deleted:
		s.logger.Errorw("compensating delete matched no record", "account_id", acc.ID, "email", acc.Email)
	default:
		s.logger.Infow("registration rolled back", "account_id", acc.ID, "email", acc.Email)
	}
}

// VerifyAccount consumes a verification token. The final update is
// conditioned on the token still being pending, so concurrent callers with
// the same token see exactly one success.
func (s *Service) VerifyAccount(ctx context.Context, tok string) (err error) {
	defer func() { observe("verify", err) }()

	if tok == "" {
		return ErrNotFound
	}
	acc, err := s.store.FindOne(ctx, repo.Filter{VerificationToken: tok})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotFound
		}
		return storeErr(err)
	}
	if acc.Verified {
		return ErrAlreadyVerified
	}
	if acc.VerificationExpired(s.clock()) {
		return ErrExpired
	}

	verified := true
	matched, err := s.store.UpdateOne(ctx,
		repo.Filter{VerificationToken: tok, Unverified: true},
		repo.Update{Set: repo.Fields{Verified: &verified}, UnsetVerification: true},
	)
	if err != nil {
		return storeErr(err)
	}
	if !matched {
		return ErrNotFound
	}
	s.logger.Infow("account verified", "account_id", acc.ID, "email", acc.Email)
	return nil
}

// Login checks the credentials of a verified account and issues a session
// token. Unknown emails and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (res *LoginResult, err error) {
	defer func() { observe("login", err) }()

	email = utilities.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	acc, err := s.store.FindOne(ctx, repo.Filter{Email: email})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.hasher.Verify(s.dummy(), password)
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}
	if !acc.Verified {
		return nil, ErrNotVerified
	}
	if !s.hasher.Verify(acc.CredentialHash, password) {
		s.logger.Debugw("login rejected", "account_id", acc.ID)
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(acc.CredentialHash) {
		s.rehash(ctx, acc, password)
	}

	sess, exp, err := s.tokens.Issue(token.Identity{ID: acc.ID, Email: acc.Email})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	s.logger.Infow("login", "account_id", acc.ID)
	return &LoginResult{Account: acc.Profile(), SessionToken: sess, ExpiresAt: exp}, nil
}

func (s *Service) rehash(ctx context.Context, acc *entity.Account, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warnw("rehash failed", "account_id", acc.ID, "err", err)
		return
	}
	// Only replace the hash that was verified; a reset committed since the
	// read wins.
	matched, err := s.store.UpdateOne(ctx,
		repo.Filter{ID: acc.ID, CredentialHash: acc.CredentialHash},
		repo.Update{Set: repo.Fields{CredentialHash: &hash}},
	)
	switch {
	case err != nil:
		s.logger.Warnw("storing rehashed credential failed", "account_id", acc.ID, "err", err)
	case !matched:
		s.logger.Debugw("credential changed during login, rehash skipped", "account_id", acc.ID)
	}
}

// dummy returns a hash to compare against when the email is unknown.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("pitchfork-placeholder-credential")
		if err != nil {
			s.logger.Warnw("dummy hash unavailable", "err", err)
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// ForgotPassword starts a reset for email when it belongs to an account.
// The result never depends on whether it does: failures are logged and
// swallowed.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	outcome := s.forgotPassword(ctx, utilities.NormalizeEmail(email))
	observe("forgot_password", outcome)
	return nil
}

func (s *Service) forgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return ErrInvalidInput
	}
	acc, err := s.store.FindOne(ctx, repo.Filter{Email: email})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Debugw("password reset requested for unknown email", "email", email)
			return nil
		}
		s.logger.Errorw("password reset lookup failed", "email", email, "err", err)
		return storeErr(err)
	}

	tok, err := token.NewOneTime()
	if err != nil {
		s.logger.Errorw("minting reset token failed", "account_id", acc.ID, "err", err)
		return err
	}
	expiry := s.clock().Add(s.resetTTL)
	matched, err := s.store.UpdateOne(ctx,
		repo.Filter{ID: acc.ID},
		repo.Update{Set: repo.Fields{ResetToken: &tok, ResetExpiry: &expiry}},
	)
	if err != nil || !matched {
		s.logger.Errorw("storing reset token failed", "account_id", acc.ID, "matched", matched, "err", err)
		if err == nil {
			err = repo.ErrNotFound
		}
		return storeErr(err)
	}

	msg, err := s.render.PasswordReset(acc.FirstName, tok, s.resetTTL)
	if err == nil {
		err = s.sender.Send(ctx, acc.Email, msg.Subject, msg.HTML)
	}
	if err != nil {
		s.logger.Errorw("password reset email failed", "account_id", acc.ID, "email", acc.Email, "err", err)
		return fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	}
	s.logger.Infow("password reset requested", "account_id", acc.ID)
	return nil
}

// ResetPassword consumes a reset token and replaces the credential in one
// conditional update.
func (s *Service) ResetPassword(ctx context.Context, tok, newPassword string) (err error) {
	defer func() { observe("reset_password", err) }()

	if newPassword == "" || len(newPassword) > maxPasswordBytes {
		return ErrInvalidInput
	}
	if tok == "" {
		return ErrInvalidOrExpiredToken
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	matched, err := s.store.UpdateOne(ctx,
		repo.Filter{ResetToken: tok, ResetValidAt: s.clock()},
		repo.Update{Set: repo.Fields{CredentialHash: &hash}, UnsetReset: true},
	)
	if err != nil {
		return storeErr(err)
	}
	if !matched {
		return ErrInvalidOrExpiredToken
	}
	s.logger.Infow("password reset completed")
	return nil
}

// Account returns the profile of the account with id.
func (s *Service) Account(ctx context.Context, id string) (*entity.Profile, error) {
	if id == "" {
		return nil, ErrUnknownAccount
	}
	acc, err := s.store.FindOne(ctx, repo.Filter{ID: id})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, storeErr(err)
	}
	p := acc.Profile()
	return &p, nil
}
