package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesAdminTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "catalog-sync",
		Audience:      "catalog-sync-admin",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueAdminToken(context.Background())
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != AdminSubject {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "catalog-sync" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "catalog-sync-admin" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("another-secret"),
		Issuer:        "catalog-sync",
		Audience:      "catalog-sync-admin",
		TokenTTL:      15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssueAdminToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != AdminSubject {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := issuer.ValidateToken("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("expiring-secret"),
		Issuer:        "catalog-sync",
		Audience:      "catalog-sync-admin",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssueAdminToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestNewTokenIssuerRequiresConfiguration(t *testing.T) {
	cases := []struct {
		name   string
		config TokenIssuerConfig
	}{
		{name: "missing secret", config: TokenIssuerConfig{Issuer: "catalog-sync", Audience: "catalog-sync-admin"}},
		{name: "missing issuer", config: TokenIssuerConfig{SigningSecret: []byte("secret"), Audience: "catalog-sync-admin"}},
		{name: "missing audience", config: TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "catalog-sync", Audience: " "}},
		{name: "negative ttl", config: TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "catalog-sync", Audience: "catalog-sync-admin", TokenTTL: -time.Minute}},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(testCase.config); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}
