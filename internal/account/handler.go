package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/authgate"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Lifecycle is the part of Service the HTTP layer drives.
type Lifecycle interface {
	Register(ctx context.Context, in RegisterInput) (*RegisterResult, error)
	VerifyAccount(ctx context.Context, tok string) error
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, tok, newPassword string) error
	Account(ctx context.Context, id string) (*entity.Profile, error)
}

// Handler exposes the account lifecycle over JSON.
type Handler struct {
	svc    Lifecycle
	logger *zap.SugaredLogger
}

func NewHandler(svc Lifecycle, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

type RegisterRequest struct {
	FirstName   string `json:"first_name" validate:"max=100"`
	LastName    string `json:"last_name" validate:"max=100"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,max=72"`
	AccountType string `json:"account_type" validate:"max=50"`
}

// normalize applies the same email normalisation the service does, so
// validation sees what will be stored.
func (r *RegisterRequest) normalize() { r.Email = utilities.NormalizeEmail(r.Email) }

type TokenRequest struct {
	Token string `json:"token"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      entity.Profile `json:"user"`
}

type MeResponse struct {
	ID    string          `json:"id"`
	Email string          `json:"email"`
	User  *entity.Profile `json:"user,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const forgotPasswordMessage = "if the email is registered, a password reset link has been sent"

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	res, err := h.svc.Register(r.Context(), RegisterInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Password:    req.Password,
		AccountType: req.AccountType,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]entity.Profile{"user": res.Account})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := h.svc.VerifyAccount(r.Context(), req.Token); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "account verified"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{Token: res.SessionToken, ExpiresAt: res.ExpiresAt, User: res.Account})
}

// ForgotPassword answers identically whatever the outcome, malformed bodies
// included.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid forgot-password payload", "err", err)
	}
	_ = h.svc.ForgotPassword(r.Context(), req.Email)
	h.writeJSON(w, http.StatusOK, messageResponse{Message: forgotPasswordMessage})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

// Me returns the authenticated identity, plus the stored profile when the
// account still exists. Requires authgate.Middleware.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := authgate.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, authgate.ErrUnauthenticated)
		return
	}
	resp := MeResponse{ID: id.ID, Email: id.Email}
	profile, err := h.svc.Account(r.Context(), id.ID)
	switch {
	case err == nil:
		resp.User = profile
	case errors.Is(err, ErrUnknownAccount):
		// identity only
	default:
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, validateBody bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload", Code: "invalid_input"})
		return false
	}
	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}
	if !validateBody {
		return true
	}
	if err := validate.Struct(dst); err != nil {
		h.logger.Debugw("payload failed validation", "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err), Code: "invalid_input"})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid input"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "invalid input: " + strings.Join(fields, ", ")
}

// statusFor maps a lifecycle error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	switch c := code(err); c {
	case "invalid_input", "conflict", "not_found", "expired", "already_verified", "invalid_or_expired_token":
		return http.StatusBadRequest, err.Error()
	case "invalid_credentials":
		return http.StatusUnauthorized, ErrInvalidCredentials.Error()
	case "not_verified":
		return http.StatusForbidden, ErrNotVerified.Error()
	case "dispatch_failure":
		return http.StatusInternalServerError, "failed to send verification email"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, authgate.ErrUnauthenticated) {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Code: "unauthenticated"})
		return
	}
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	h.writeJSON(w, status, errorResponse{Error: msg, Code: code(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorw("failed to encode response", "err", err)
	}
}
