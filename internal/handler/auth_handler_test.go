package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/timebank/internal/model"
	"github.com/hitoshi/timebank/internal/session"
)

// --- モック定義 ---

type mockSessionService struct {
	loginFn         func(ctx context.Context, email, password string) model.AuthResult
	registerFn      func(ctx context.Context, name, email, password, phone string) model.AuthResult
	updateProfileFn func(ctx context.Context, update model.ProfileUpdate) model.AuthResult
	profileFn       func() *model.UserProfile
	loggedIn        bool
	logoutCalls     int
}

func (m *mockSessionService) Login(ctx context.Context, email, password string) model.AuthResult {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return model.Fail("login failed")
}

func (m *mockSessionService) Register(ctx context.Context, name, email, password, phone string) model.AuthResult {
	if m.registerFn != nil {
		return m.registerFn(ctx, name, email, password, phone)
	}
	return model.Fail("registration failed")
}

func (m *mockSessionService) Logout(ctx context.Context) {
	m.logoutCalls++
}

func (m *mockSessionService) UpdateProfile(ctx context.Context, update model.ProfileUpdate) model.AuthResult {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, update)
	}
	return model.OK()
}

func (m *mockSessionService) Profile() *model.UserProfile {
	if m.profileFn != nil {
		return m.profileFn()
	}
	return nil
}

func (m *mockSessionService) IsLoggedIn() bool { return m.loggedIn }

func (m *mockSessionService) State() session.State {
	if m.loggedIn {
		return session.StateAuthenticated
	}
	return session.StateAnonymous
}

func sampleProfile() *model.UserProfile {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &model.UserProfile{
		ID:        "user-1",
		Name:      "山田太郎",
		Email:     "taro@example.com",
		Phone:     "090-0000-0000",
		Balance:   2,
		JoinedAt:  now,
		UpdatedAt: now,
	}
}

// --- Login のテスト ---

func TestAuthHandler_Login_Success(t *testing.T) {
	svc := &mockSessionService{
		loginFn: func(ctx context.Context, email, password string) model.AuthResult {
			if email != "taro@example.com" || password != "password123" {
				t.Errorf("credentials = %q / %q", email, password)
			}
			return model.OK()
		},
		profileFn: sampleProfile,
		loggedIn:  true,
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"taro@example.com","password":"password123"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body authResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if !body.Success {
		t.Errorf("success = false: %+v", body)
	}
	if body.Profile == nil || body.Profile.ID != "user-1" {
		t.Errorf("profile = %+v", body.Profile)
	}
}

func TestAuthHandler_Login_Failure_Returns401WithMessage(t *testing.T) {
	svc := &mockSessionService{
		loginFn: func(ctx context.Context, email, password string) model.AuthResult {
			return model.Fail("login failed")
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"taro@example.com","password":"wrong"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	var body authResultResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Success {
		t.Error("success should be false")
	}
	if body.Error != "login failed" {
		t.Errorf("error = %q, want %q", body.Error, "login failed")
	}
	if body.Profile != nil {
		t.Error("profile should be omitted on failure")
	}
}

func TestAuthHandler_Login_InvalidBody_Returns400(t *testing.T) {
	h := NewAuthHandler(&mockSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Result().StatusCode)
	}
}

// --- Register のテスト ---

func TestAuthHandler_Register_Success_Returns201WithProfile(t *testing.T) {
	svc := &mockSessionService{
		registerFn: func(ctx context.Context, name, email, password, phone string) model.AuthResult {
			if name != "山田太郎" || phone != "090-0000-0000" {
				t.Errorf("register args = %q / %q", name, phone)
			}
			return model.OK()
		},
		profileFn: sampleProfile,
		loggedIn:  true,
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"name":"山田太郎","email":"taro@example.com","password":"password123","phone":"090-0000-0000"}`))
	w := httptest.NewRecorder()

	h.Register(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var body authResultResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if !body.Success || body.Profile == nil {
		t.Errorf("body = %+v", body)
	}
	if body.Profile.Balance != 2 {
		t.Errorf("balance = %d, want 2", body.Profile.Balance)
	}
}

func TestAuthHandler_Register_ConfirmationPending_Returns202WithoutProfile(t *testing.T) {
	svc := &mockSessionService{
		registerFn: func(ctx context.Context, name, email, password, phone string) model.AuthResult {
			return model.OK()
		},
		loggedIn: false, // メール確認待ち
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"name":"山田太郎","email":"taro@example.com","password":"password123"}`))
	w := httptest.NewRecorder()

	h.Register(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var body authResultResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if !body.Success {
		t.Error("success should be true for pending confirmation")
	}
	if body.Profile != nil {
		t.Error("profile should be omitted until confirmation")
	}
}

func TestAuthHandler_Register_Failure_Returns422(t *testing.T) {
	svc := &mockSessionService{
		registerFn: func(ctx context.Context, name, email, password, phone string) model.AuthResult {
			return model.Fail("Failed to create user profile, please try again")
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"name":"山田太郎","email":"taro@example.com","password":"password123"}`))
	w := httptest.NewRecorder()

	h.Register(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	var body authResultResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "Failed to create user profile, please try again" {
		t.Errorf("error = %q", body.Error)
	}
}

// --- Logout のテスト ---

func TestAuthHandler_Logout_Returns204(t *testing.T) {
	svc := &mockSessionService{}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Result().StatusCode)
	}
	if svc.logoutCalls != 1 {
		t.Errorf("logout calls = %d, want 1", svc.logoutCalls)
	}
}

// --- Me のテスト ---

func TestAuthHandler_Me_LoggedIn_ReturnsStateAndProfile(t *testing.T) {
	svc := &mockSessionService{
		profileFn: sampleProfile,
		loggedIn:  true,
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["state"] != "authenticated" {
		t.Errorf("state = %v", body["state"])
	}
	if body["profile"] == nil {
		t.Error("profile should be present")
	}
}

func TestAuthHandler_Me_NotLoggedIn_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockSessionService{loggedIn: false})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}
