package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateAndValidateToken(t *testing.T) {
	tm := NewTokenManager("test-secret")
	permissions := []Permission{PermissionRead, PermissionWrite}

	token, err := tm.GenerateToken("node-1", permissions)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := tm.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Subject != "node-1" {
		t.Errorf("expected subject 'node-1', got %q", claims.Subject)
	}
	if len(claims.Permissions) != 2 {
		t.Errorf("expected 2 permissions, got %d", len(claims.Permissions))
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	tm := NewTokenManager("test-secret")
	token, err := tm.GenerateToken("node-1", []Permission{PermissionRead})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	other := NewTokenManager("wrong-secret")
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("expected error validating a token signed with a different secret")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	tm := NewTokenManager("test-secret")
	if _, err := tm.ValidateToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestClaimsHasPermission(t *testing.T) {
	claims := &Claims{Permissions: []Permission{PermissionRead}}
	if !claims.HasPermission(PermissionRead) {
		t.Error("expected read permission")
	}
	if claims.HasPermission(PermissionAdmin) {
		t.Error("expected no admin permission")
	}

	admin := &Claims{Permissions: []Permission{PermissionAdmin}}
	if !admin.HasPermission(PermissionWrite) {
		t.Error("expected admin to imply write permission")
	}
}

func TestDeriveSecretIsDeterministic(t *testing.T) {
	salt := []byte("fixed-salt-fixed-salt")
	a := DeriveSecret("correct horse battery staple", salt)
	b := DeriveSecret("correct horse battery staple", salt)
	if string(a) != string(b) {
		t.Error("expected identical derivation for the same passphrase and salt")
	}

	c := DeriveSecret("different passphrase", salt)
	if string(a) == string(c) {
		t.Error("expected different passphrases to derive different secrets")
	}
}

func TestMiddlewareAuthenticate(t *testing.T) {
	tm := NewTokenManager("test-secret")
	mw := NewMiddleware(tm)

	token, err := tm.GenerateToken("node-1", []Permission{PermissionRead})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	called := false
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := GetClaims(r.Context())
		if !ok || claims.Subject != "node-1" {
			t.Error("expected claims for node-1 in request context")
		}
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("expected handler to be called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMiddlewareAuthenticateMissingHeader(t *testing.T) {
	tm := NewTokenManager("test-secret")
	mw := NewMiddleware(tm)

	req := httptest.NewRequest("GET", "/test", nil)
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareAuthenticateInvalidFormat(t *testing.T) {
	tm := NewTokenManager("test-secret")
	mw := NewMiddleware(tm)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "InvalidFormat token")
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestGetClaimsFromContext(t *testing.T) {
	claims := &Claims{Subject: "node-1"}
	ctx := context.WithValue(context.Background(), claimsKey, claims)

	got, ok := GetClaims(ctx)
	if !ok || got.Subject != "node-1" {
		t.Error("expected to retrieve claims set on the context")
	}

	if _, ok := GetClaims(context.Background()); ok {
		t.Error("expected no claims on an empty context")
	}
}
