package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("s3cret", hash) {
		t.Error("expected password to match its hash")
	}
	if CheckPassword("wrong", hash) {
		t.Error("expected wrong password to be rejected")
	}
	if CheckPassword("s3cret", "") {
		t.Error("expected empty hash to reject everything")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("admin", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	userID, err := ValidateToken(token, "secret")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if userID != "admin" {
		t.Errorf("expected admin, got %q", userID)
	}

	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Error("expected signature mismatch to fail")
	}

	expired, _ := GenerateToken("admin", "secret", -time.Minute)
	if _, err := ValidateToken(expired, "secret"); err == nil {
		t.Error("expected expired token to fail")
	}

	if _, err := GenerateToken("admin", "", time.Hour); err != ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	hash, _ := HashPassword("pw")
	cfg := Config{JWTSecret: "secret", PasswordHash: hash, TokenDuration: time.Hour}
	token, _ := GenerateToken("admin", cfg.JWTSecret, time.Hour)

	var seenUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		cfg    Config
		header string
		want   int
	}{
		{name: "valid token", cfg: cfg, header: "Bearer " + token, want: http.StatusNoContent},
		{name: "missing header", cfg: cfg, want: http.StatusUnauthorized},
		{name: "wrong scheme", cfg: cfg, header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "garbage token", cfg: cfg, header: "Bearer abc.def.ghi", want: http.StatusUnauthorized},
		{name: "auth disabled", cfg: Config{}, header: "Bearer " + token, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenUser = ""
			req := httptest.NewRequest(http.MethodPost, "/api/triggers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Middleware(tt.cfg)(next).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusNoContent && seenUser != "admin" {
				t.Errorf("expected user in context, got %q", seenUser)
			}
		})
	}
}
