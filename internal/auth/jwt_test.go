package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer("secret", "narrasi", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	token, err := issuer.GenerateToken("studio-a", "client")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "studio-a" || claims.Role != "client" {
		t.Errorf("Unexpected claims %+v", claims)
	}

	other, _ := NewIssuer("other-secret", "narrasi", time.Hour)
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("Expected signature mismatch")
	}

	expired, _ := NewIssuer("secret", "narrasi", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := expired.ValidateToken(token); err == nil {
		t.Error("Expected expired token to be rejected")
	}

	if _, err := NewIssuer("", "narrasi", time.Hour); err == nil {
		t.Error("Expected empty secret to be rejected")
	}
}

func TestIssuer_Middleware(t *testing.T) {
	issuer, _ := NewIssuer("secret", "narrasi", time.Hour)
	token, _ := issuer.GenerateToken("studio-a", "client")

	e := echo.New()
	e.GET("/private", func(c echo.Context) error {
		claims := c.Get(ClaimsContextKey).(*JWTClaims)
		return c.String(http.StatusOK, claims.Subject)
	}, issuer.Middleware())

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"query token", "", "?token=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && rec.Body.String() != "studio-a" {
				t.Errorf("Expected subject in body, got %q", rec.Body.String())
			}
		})
	}
}
