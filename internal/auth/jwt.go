package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"semaphore/credentials/internal/model"
)

var ErrInvalidRole = errors.New("invalid_role")

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func ParseToken(publicKey *rsa.PublicKey, issuer, tokenString string) (*Claims, error) {
	if publicKey == nil {
		return nil, errors.New("missing_public_key")
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, options...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Actor maps verified claims to the caller identity. The SYSTEM role belongs
// to background workers and is never accepted from a token.
func (c *Claims) Actor() (model.Actor, error) {
	subject := c.UserID
	if subject == "" {
		subject = c.Subject
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return model.Actor{}, jwt.ErrTokenInvalidSubject
	}
	role := model.Role(strings.ToUpper(strings.TrimSpace(c.Role)))
	switch role {
	case model.RoleFaculty, model.RoleAcademic, model.RoleAdmin, model.RoleStudent:
		return model.Actor{ID: id, Role: role}, nil
	}
	return model.Actor{}, ErrInvalidRole
}

func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid_public_key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		publicKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid_public_key_type")
		}
		return publicKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, errors.New("invalid_public_key")
	}
}
