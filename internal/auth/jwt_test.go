package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTValidatorAcceptsSignedToken(t *testing.T) {
	token, err := GenerateToken("u1", []string{RoleQueryReader}, "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	validator, err := NewJWTValidator("secret")
	if err != nil {
		t.Fatalf("NewJWTValidator() error = %v", err)
	}

	identity, ok := validator.Validate(context.Background(), token)
	if !ok {
		t.Fatal("expected token to validate")
	}
	if identity.TenantID != "u1" || !identity.HasRole(RoleQueryReader) {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestJWTValidatorRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("u1", []string{RoleQueryReader}, "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	validator, _ := NewJWTValidator("other")
	if _, ok := validator.Validate(context.Background(), token); ok {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	claims := &Claims{
		TenantID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	validator, _ := NewJWTValidator("secret")
	if _, ok := validator.Validate(context.Background(), token); ok {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestJWTValidatorRejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{
		TenantID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	validator, _ := NewJWTValidator("secret")
	if _, ok := validator.Validate(context.Background(), token); ok {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestGenerateTokenRequiresTenant(t *testing.T) {
	if _, err := GenerateToken("", nil, "secret", time.Hour); err == nil {
		t.Fatal("expected error without tenant")
	}
}

func TestChainFallsThroughToJWT(t *testing.T) {
	static, err := NewStaticAPIKeyValidator("k1:u1:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	jwtValidator, _ := NewJWTValidator("secret")
	token, _ := GenerateToken("u2", []string{RoleQueryReader}, "secret", time.Hour)

	mw := Middleware(nil, Chain{static, jwtValidator})
	var seen []string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		seen = append(seen, identity.TenantID)
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, credential := range []string{"k1", token} {
		req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
		req.Header.Set("Authorization", "Bearer "+credential)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d for credential %q", rr.Code, credential)
		}
	}
	if len(seen) != 2 || seen[0] != "u1" || seen[1] != "u2" {
		t.Fatalf("tenants = %v", seen)
	}
}

func TestStaticAPIKeyValidatorRejectsDuplicates(t *testing.T) {
	if _, err := NewStaticAPIKeyValidator("k1:u1:query_reader,k1:u2:query_reader"); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
