// Package pme implements the prediction-market exchange protocol: the
// RSA-PSS request signer, the authenticated WebSocket with per-channel
// subscription bookkeeping, the REST market listing, and the lifecycle
// controller that tracks the series' current market and rolls to its
// successor on close.
package pme

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"strconv"
	"time"

	"imbalance-sentinel/internal/apperror"
)

// Authentication header names shared by the WebSocket handshake and REST.
const (
	HeaderAccessKey       = "KALSHI-ACCESS-KEY"
	HeaderAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	HeaderAccessSignature = "KALSHI-ACCESS-SIGNATURE"
)

// Request paths signed for each surface. Signatures cover the path only,
// never query parameters.
const (
	wsSignPath      = "/trade-api/ws/v2"
	marketsSignPath = "/trade-api/v2/markets"
)

// Signer produces the three authentication headers. The signature is
// RSA-PSS-SHA256 over timestamp-millis || method || path, base64-encoded.
type Signer struct {
	key      *rsa.PrivateKey
	apiKeyID string
}

// NewSigner loads a PKCS#1 or PKCS#8 RSA private key from a PEM file.
func NewSigner(apiKeyID, privateKeyPath string) (*Signer, error) {
	raw, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeAuth, "read private key")
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, apperror.New(apperror.CodeAuth, "no PEM block in %s", privateKeyPath)
	}

	key, err := parseRSAKey(block)
	if err != nil {
		return nil, err
	}

	return &Signer{key: key, apiKeyID: apiKeyID}, nil
}

func parseRSAKey(block *pem.Block) (*rsa.PrivateKey, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeAuth, "parse PKCS#1 key")
		}
		return key, nil
	case "PRIVATE KEY":
		return parsePKCS8(block.Bytes)
	default:
		// Unusual tag; try both encodings before giving up.
		if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		return parsePKCS8(block.Bytes)
	}
}

func parsePKCS8(der []byte) (*rsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeAuth, "parse PKCS#8 key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, apperror.New(apperror.CodeAuth, "private key is %T, want RSA", parsed)
	}
	return key, nil
}

// APIKeyID returns the access key identifier.
func (s *Signer) APIKeyID() string { return s.apiKeyID }

// Sign returns the base64 RSA-PSS-SHA256 signature of the message.
func (s *Signer) Sign(message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeAuth, "sign request")
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Headers builds the authentication headers for a request, signing
// timestamp || method || path with the current millisecond timestamp.
func (s *Signer) Headers(method, path string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature, err := s.Sign(timestamp + method + path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAccessKey:       s.apiKeyID,
		HeaderAccessTimestamp: timestamp,
		HeaderAccessSignature: signature,
	}, nil
}
