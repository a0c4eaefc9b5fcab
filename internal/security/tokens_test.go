package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidate(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, jti, exp, err := p.Issue("id-1", "9876543210")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" || jti == "" {
		t.Fatal("token or jti empty")
	}
	if !exp.After(time.Now()) {
		t.Fatal("expiry in the past")
	}
	claims, err := p.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "id-1" || claims.Phone != "9876543210" || claims.ID != jti {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenProvider_ValidateInvalid(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.Validate("invalid-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatal(err)
	}
	issuedAt := time.Now().Add(-time.Hour)
	p.now = func() time.Time { return issuedAt }
	token, _, _, err := p.Issue("id-1", "9876543210")
	if err != nil {
		t.Fatal(err)
	}
	p.now = time.Now
	if _, err := p.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_WrongAudienceOrKey(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatal(err)
	}
	token, _, _, err := p.Issue("id-1", "9876543210")
	if err != nil {
		t.Fatal(err)
	}

	other := NewTokenProvider(p.privateKey, p.publicKey, "test-issuer", "someone-else", time.Minute)
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong audience: want ErrInvalidToken, got %v", err)
	}

	stranger, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	foreign := NewTokenProvider(stranger, &stranger.PublicKey, "test-issuer", "test-audience", time.Minute)
	if _, err := foreign.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong key: want ErrInvalidToken, got %v", err)
	}
}
