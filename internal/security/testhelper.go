package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"time"
)

// GenerateTestKeyPEM returns a fresh P-256 key pair as PKCS#8 and PKIX PEM strings.
// For tests and local development only.
func GenerateTestKeyPEM() (privatePEM, publicPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM, nil
}

// NewTestTokenProvider returns a TokenProvider backed by a throwaway ES256 key.
// Callers must not use it in production.
func NewTestTokenProvider() (*TokenProvider, error) {
	priv, pub, err := GenerateTestKeyPEM()
	if err != nil {
		return nil, err
	}
	signer, pubKey, err := LoadKeyPair(priv, pub)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(signer, pubKey, "test-issuer", "test-audience", 15*time.Minute), nil
}
