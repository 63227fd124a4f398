package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/authgate"
	"github.com/ovaphlow/pitchfork/service-account/internal/token"
)

type mockLifecycle struct {
	register func(in RegisterInput) (*RegisterResult, error)
	verify   func(tok string) error
	login    func(email, password string) (*LoginResult, error)
	forgot   func(email string) error
	reset    func(tok, pw string) error
	account  func(id string) (*entity.Profile, error)
}

func (m *mockLifecycle) Register(_ context.Context, in RegisterInput) (*RegisterResult, error) {
	return m.register(in)
}

func (m *mockLifecycle) VerifyAccount(_ context.Context, tok string) error { return m.verify(tok) }

func (m *mockLifecycle) Login(_ context.Context, email, password string) (*LoginResult, error) {
	return m.login(email, password)
}

func (m *mockLifecycle) ForgotPassword(_ context.Context, email string) error {
	if m.forgot == nil {
		return nil
	}
	return m.forgot(email)
}

func (m *mockLifecycle) ResetPassword(_ context.Context, tok, pw string) error {
	return m.reset(tok, pw)
}

func (m *mockLifecycle) Account(_ context.Context, id string) (*entity.Profile, error) {
	return m.account(id)
}

func do(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e), rr.Body.String())
	return e
}

func TestHandlerRegister(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &mockLifecycle{}
	h := NewHandler(m, zap.NewNop().Sugar())

	t.Run("ok hides token", func(t *testing.T) {
		m.register = func(in RegisterInput) (*RegisterResult, error) {
			assert.Equal(t, "ada@example.com", in.Email)
			assert.Equal(t, "Ada", in.FirstName)
			return &RegisterResult{
				Account:           entity.Profile{ID: "1", Email: in.Email, CreatedAt: created},
				VerificationToken: "secret-token",
			}, nil
		}
		rr := do(t, h.Register, `{"first_name":"Ada","email":"ada@example.com","password":"pw123"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "secret-token")

		var body struct {
			User entity.Profile `json:"user"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "1", body.User.ID)
	})

	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed json", `{nope`, nil, http.StatusBadRequest, "invalid_input"},
		{"missing email", `{"password":"pw"}`, nil, http.StatusBadRequest, "invalid_input"},
		{"bad email", `{"email":"not-an-email","password":"pw"}`, nil, http.StatusBadRequest, "invalid_input"},
		{"missing password", `{"email":"a@x.com"}`, nil, http.StatusBadRequest, "invalid_input"},
		{"conflict", `{"email":"a@x.com","password":"pw"}`, ErrConflict, http.StatusBadRequest, "conflict"},
		{"dispatch failure", `{"email":"a@x.com","password":"pw"}`, fmt.Errorf("%w: smtp down", ErrDispatchFailure), http.StatusInternalServerError, "dispatch_failure"},
		{"store down", `{"email":"a@x.com","password":"pw"}`, fmt.Errorf("%w: refused", ErrStoreUnavailable), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m.register = func(RegisterInput) (*RegisterResult, error) {
				if tc.err == nil {
					t.Fatal("service must not be called")
				}
				return nil, tc.err
			}
			rr := do(t, h.Register, tc.body)
			assert.Equal(t, tc.status, rr.Code)
			e := decodeError(t, rr)
			assert.Equal(t, tc.code, e.Code)
			assert.NotContains(t, e.Error, "refused")
			assert.NotContains(t, e.Error, "smtp down")
		})
	}
}

func TestHandlerVerify(t *testing.T) {
	m := &mockLifecycle{}
	h := NewHandler(m, zap.NewNop().Sugar())

	for err, want := range map[error]string{
		ErrNotFound:        "not_found",
		ErrExpired:         "expired",
		ErrAlreadyVerified: "already_verified",
	} {
		m.verify = func(string) error { return err }
		rr := do(t, h.Verify, `{"token":"t"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, want, decodeError(t, rr).Code)
	}

	m.verify = func(tok string) error {
		assert.Equal(t, "t", tok)
		return nil
	}
	rr := do(t, h.Verify, `{"token":"t"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlerLogin(t *testing.T) {
	exp := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	m := &mockLifecycle{}
	h := NewHandler(m, zap.NewNop().Sugar())

	m.login = func(email, password string) (*LoginResult, error) {
		return &LoginResult{Account: entity.Profile{ID: "1", Email: email}, SessionToken: "jwt", ExpiresAt: exp}, nil
	}
	rr := do(t, h.Login, `{"email":"a@x.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "jwt", resp.Token)
	assert.True(t, exp.Equal(resp.ExpiresAt))
	assert.Equal(t, "a@x.com", resp.User.Email)
	assert.NotContains(t, rr.Body.String(), "credential")

	m.login = func(string, string) (*LoginResult, error) { return nil, ErrInvalidCredentials }
	rr = do(t, h.Login, `{"email":"a@x.com","password":"pw"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid_credentials", decodeError(t, rr).Code)

	m.login = func(string, string) (*LoginResult, error) { return nil, ErrNotVerified }
	rr = do(t, h.Login, `{"email":"a@x.com","password":"pw"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "not_verified", decodeError(t, rr).Code)
}

func TestHandlerForgotPasswordUniformResponse(t *testing.T) {
	m := &mockLifecycle{}
	h := NewHandler(m, zap.NewNop().Sugar())

	var bodies []string
	for _, body := range []string{`{"email":"known@x.com"}`, `{"email":"ghost@x.com"}`, `{garbage`} {
		rr := do(t, h.ForgotPassword, body)
		assert.Equal(t, http.StatusOK, rr.Code)
		bodies = append(bodies, rr.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
}

func TestHandlerResetPassword(t *testing.T) {
	m := &mockLifecycle{}
	h := NewHandler(m, zap.NewNop().Sugar())

	m.reset = func(tok, pw string) error {
		assert.Equal(t, "t", tok)
		assert.Equal(t, "new-pw", pw)
		return nil
	}
	assert.Equal(t, http.StatusOK, do(t, h.ResetPassword, `{"token":"t","new_password":"new-pw"}`).Code)

	m.reset = func(string, string) error { return ErrInvalidOrExpiredToken }
	rr := do(t, h.ResetPassword, `{"token":"t","new_password":"new-pw"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_or_expired_token", decodeError(t, rr).Code)

	rr = do(t, h.ResetPassword, `{"token":"t"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rr).Code)
}

func TestHandlerMe(t *testing.T) {
	m := &mockLifecycle{}
	h := NewHandler(m, zap.NewNop().Sugar())
	id := token.Identity{ID: "42", Email: "a@x.com"}

	call := func(ctx context.Context) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		h.Me(rr, req)
		return rr
	}

	rr := call(context.Background())
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, rr).Code)

	m.account = func(string) (*entity.Profile, error) {
		return &entity.Profile{ID: "42", Email: "a@x.com", FirstName: "Ada"}, nil
	}
	rr = call(authgate.WithIdentity(context.Background(), id))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp MeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.ID)
	require.NotNil(t, resp.User)
	assert.Equal(t, "Ada", resp.User.FirstName)

	m.account = func(string) (*entity.Profile, error) { return nil, ErrUnknownAccount }
	rr = call(authgate.WithIdentity(context.Background(), id))
	require.Equal(t, http.StatusOK, rr.Code)
	resp = MeResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "a@x.com", resp.Email)
	assert.Nil(t, resp.User)

	m.account = func(string) (*entity.Profile, error) { return nil, fmt.Errorf("%w: down", ErrStoreUnavailable) }
	rr = call(authgate.WithIdentity(context.Background(), id))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal", decodeError(t, rr).Code)
}

func TestStatusFor(t *testing.T) {
	status, msg := statusFor(errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", msg)

	status, msg = statusFor(fmt.Errorf("%w: password longer than 72 bytes", ErrInvalidInput))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, msg, "72 bytes")
}

func TestHandlerRegisterNormalizesEmailBeforeValidation(t *testing.T) {
	m := &mockLifecycle{register: func(in RegisterInput) (*RegisterResult, error) {
		assert.Equal(t, "a@x.com", in.Email)
		return &RegisterResult{Account: entity.Profile{ID: "1", Email: in.Email}}, nil
	}}
	h := NewHandler(m, zap.NewNop().Sugar())

	rr := do(t, h.Register, `{"email":" A@X.com ","password":"pw"}`)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestHandlerNilLogger(t *testing.T) {
	h := NewHandler(&mockLifecycle{}, nil)
	rr := do(t, h.Login, `{nope`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
