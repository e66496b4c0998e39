package middleware

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// generateTestToken подписывает JWT ключом key.
func generateTestToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}
	return signed
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth с RSA ключом для тестов.
func newTestJWTAuth(t *testing.T) (*JWTAuth, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("keyfunc из JWKS JSON: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, 5*time.Second, testLogger()), key
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "test-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

func rejectingHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler не должен быть вызван")
	})
}

// TestJWTAuth_ValidToken проверяет валидный JWT и sub в контексте.
func TestJWTAuth_ValidToken(t *testing.T) {
	auth, key := newTestJWTAuth(t)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sub := SubjectFromContext(r.Context()); sub != "test-user" {
			t.Errorf("ожидался sub=test-user, получен %s", sub)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, jwt.SigningMethodRS256, validClaims()))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

// TestJWTAuth_Rejected проверяет отказ для некорректных токенов.
func TestJWTAuth_Rejected(t *testing.T) {
	auth, key := newTestJWTAuth(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExp := validClaims()
	noExp.ExpiresAt = nil

	noSub := validClaims()
	noSub.Subject = ""

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"без префикса Bearer", "token123"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not.a.jwt"},
		{"просроченный", "Bearer " + generateTestToken(t, key, jwt.SigningMethodRS256, expired)},
		{"без exp", "Bearer " + generateTestToken(t, key, jwt.SigningMethodRS256, noExp)},
		{"без sub", "Bearer " + generateTestToken(t, key, jwt.SigningMethodRS256, noSub)},
		{"чужой ключ", "Bearer " + generateTestToken(t, otherKey, jwt.SigningMethodRS256, validClaims())},
		{"алгоритм RS512", "Bearer " + generateTestToken(t, key, jwt.SigningMethodRS512, validClaims())},
	}

	handler := auth.Middleware()(rejectingHandler(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestJWTAuth_Leeway проверяет допуск по времени.
func TestJWTAuth_Leeway(t *testing.T) {
	auth, key := newTestJWTAuth(t)
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Second))

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, jwt.SigningMethodRS256, claims))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("токен в пределах leeway отклонён: %d", rec.Code)
	}
}

func TestSubjectFromContext(t *testing.T) {
	if sub := SubjectFromContext(context.Background()); sub != "" {
		t.Errorf("ожидалась пустая строка, получено %q", sub)
	}
	ctx := context.WithValue(context.Background(), ContextKeySubject, "admin")
	if sub := SubjectFromContext(ctx); sub != "admin" {
		t.Errorf("ожидалось admin, получено %q", sub)
	}
}

// TestRequestLogger_Subject проверяет, что sub из JWT попадает в лог запроса,
// хотя логгер стоит в цепочке раньше аутентификации.
func TestRequestLogger_Subject(t *testing.T) {
	auth, key := newTestJWTAuth(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := RequestLogger(logger)(auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/files/x", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, jwt.SigningMethodRS256, validClaims()))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if out := buf.String(); !strings.Contains(out, "subject=test-user") {
		t.Errorf("лог без subject: %s", out)
	}

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))
	if out := buf.String(); strings.Contains(out, "subject=") || !strings.Contains(out, "status=401") {
		t.Errorf("лог отказа: %s", out)
	}
}

// TestNewJWTAuth_HTTPJWKS проверяет загрузку ключей с JWKS endpoint.
func TestNewJWTAuth_HTTPJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	}))
	defer jwksServer.Close()

	auth, err := NewJWTAuth(JWTAuthConfig{JWKSURL: jwksServer.URL, JWTLeeway: time.Second}, testLogger())
	if err != nil {
		t.Fatalf("NewJWTAuth: %v", err)
	}

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, jwt.SigningMethodRS256, validClaims()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("статус %d, тело: %s", rec.Code, rec.Body.String())
	}
}

func TestNewJWTAuth_BadCACert(t *testing.T) {
	path := t.TempDir() + "/ca.pem"
	if err := os.WriteFile(path, []byte("не PEM"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJWTAuth(JWTAuthConfig{JWKSURL: "https://example.invalid/jwks", CACertPath: path}, testLogger()); err == nil {
		t.Error("ожидалась ошибка для CA без PEM-блоков")
	}
	if _, err := NewJWTAuth(JWTAuthConfig{JWKSURL: "https://example.invalid/jwks", CACertPath: path + ".missing"}, testLogger()); err == nil {
		t.Error("ожидалась ошибка для отсутствующего CA")
	}
}
