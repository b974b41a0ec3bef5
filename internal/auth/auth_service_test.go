package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T, accessTTL, refreshTTL time.Duration) *AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	service, err := NewAuthService(privatePEM, publicPEM, accessTTL, refreshTTL)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return service
}

func TestTokenRoundTrip(t *testing.T) {
	service := newTestService(t, 15*time.Minute, 24*time.Hour)

	pair, err := service.GenerateTokenPair(42, "member")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := service.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.UserID != 42 || claims.Role != "member" || claims.TokenType != "access" {
		t.Errorf("access claims = %+v", claims)
	}
	if claims.Subject != "42" {
		t.Errorf("subject = %s", claims.Subject)
	}

	refresh, err := service.ValidateToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if refresh.TokenType != "refresh" {
		t.Errorf("refresh token type = %s", refresh.TokenType)
	}
	if refresh.ID == "" {
		t.Error("refresh token must carry a jti for rotation blacklisting")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	service := newTestService(t, time.Minute, time.Hour)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := service.ValidateToken(token); err == nil {
			t.Errorf("token %q must be rejected", token)
		}
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	service := newTestService(t, -time.Minute, time.Hour)

	pair, err := service.GenerateTokenPair(7, "member")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := service.ValidateToken(pair.AccessToken); err == nil {
		t.Error("expired access token must be rejected")
	}
}

func TestValidateTokenRejectsForeignKey(t *testing.T) {
	issuer := newTestService(t, time.Minute, time.Hour)
	verifier := newTestService(t, time.Minute, time.Hour)

	pair, err := issuer.GenerateTokenPair(7, "member")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.ValidateToken(pair.AccessToken); err == nil {
		t.Error("token signed with a different key must be rejected")
	}
}

func TestNewAuthServiceRejectsBadKeys(t *testing.T) {
	if _, err := NewAuthService(nil, []byte("x"), time.Minute, time.Hour); err == nil {
		t.Error("missing private key must be rejected")
	}
	if _, err := NewAuthService([]byte("x"), nil, time.Minute, time.Hour); err == nil {
		t.Error("missing public key must be rejected")
	}
	if _, err := NewAuthService([]byte("not pem"), []byte("not pem"), time.Minute, time.Hour); err == nil {
		t.Error("garbage pem must be rejected")
	}
}

func TestPasswordHashing(t *testing.T) {
	service := newTestService(t, time.Minute, time.Hour)

	hash, err := service.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if strings.Contains(hash, "s3cret-pass") {
		t.Error("hash must not embed the plaintext")
	}
	if !service.CheckPasswordHash("s3cret-pass", hash) {
		t.Error("correct password must verify")
	}
	if service.CheckPasswordHash("wrong-pass", hash) {
		t.Error("wrong password must not verify")
	}
}
