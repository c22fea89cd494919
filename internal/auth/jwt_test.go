package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"semaphore/credentials/internal/model"
)

const userID = "22222222-2222-2222-2222-222222222221"

func signToken(t *testing.T, key *rsa.PrivateKey, issuer string, claims Claims) string {
	t.Helper()
	claims.Issuer = issuer
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Minute))
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseTokenToActor(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	token := signToken(t, key, "issuer", Claims{UserID: userID, Role: "admin"})

	claims, err := ParseToken(&key.PublicKey, "issuer", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	actor, err := claims.Actor()
	if err != nil {
		t.Fatalf("actor error: %v", err)
	}
	if actor.ID.String() != userID || actor.Role != model.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := ParseToken(&key.PublicKey, "other-issuer", token); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	if _, err := ParseToken(&other.PublicKey, "issuer", token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
	hmac, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: userID, Role: "ADMIN"}).SignedString([]byte("secret"))
	if _, err := ParseToken(&key.PublicKey, "", hmac); err == nil {
		t.Fatalf("expected HS256 token to be rejected")
	}
}

func TestClaimsActorRejectsUnknownRoles(t *testing.T) {
	cases := []struct {
		claims Claims
		err    error
	}{
		{Claims{UserID: userID, Role: "SYSTEM"}, ErrInvalidRole},
		{Claims{UserID: userID, Role: "registrar"}, ErrInvalidRole},
		{Claims{UserID: "not-a-uuid", Role: "ADMIN"}, jwt.ErrTokenInvalidSubject},
	}
	for _, tc := range cases {
		if _, err := tc.claims.Actor(); !errors.Is(err, tc.err) {
			t.Fatalf("%+v: expected %v, got %v", tc.claims, tc.err, err)
		}
	}

	claims := Claims{Role: "faculty", RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}
	actor, err := claims.Actor()
	if err != nil || actor.Role != model.RoleFaculty {
		t.Fatalf("expected subject fallback, got %+v %v", actor, err)
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pkix := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	pkcs1 := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}))
	for _, data := range []string{pkix, pkcs1} {
		parsed, err := ParseRSAPublicKey(data)
		if err != nil || parsed.N.Cmp(key.PublicKey.N) != 0 {
			t.Fatalf("parse key: %v", err)
		}
	}
	if _, err := ParseRSAPublicKey("not a key"); err == nil {
		t.Fatalf("expected garbage to be rejected")
	}
}
