package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
)

const (
	HeaderAdminID        = "X-Admin-ID"
	HeaderAdminSignature = "X-Admin-Signature"

	maxAdminBodySize = 1 << 20
)

type adminIDKey struct{}

func adminFromContext(ctx context.Context) string {
	id, _ := ctx.Value(adminIDKey{}).(string)
	return id
}

// adminAuth authenticates requests against the configured admin keys.
type adminAuth struct {
	log     *slog.Logger
	pubKeys map[string][]byte // admin id -> public key PEM
}

func (a *adminAuth) adminIDs() []string {
	return slices.Sorted(maps.Keys(a.pubKeys))
}

// middleware admits a request signed by a known admin and records the admin
// id in the request context. The body is buffered for the handler.
func (a *adminAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, err := a.authenticate(r)
		if err != nil {
			a.log.Warn("Admin authentication failed", "adminID", adminID, "path", r.URL.Path, "err", err)
			failAdmin(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminIDKey{}, adminID)))
	})
}

func (a *adminAuth) authenticate(r *http.Request) (string, error) {
	adminID := r.Header.Get(HeaderAdminID)
	if adminID == "" {
		return "", errors.New("missing admin id")
	}
	pubKeyPEM, ok := a.pubKeys[adminID]
	if !ok {
		return adminID, errors.New("unknown admin")
	}
	pubKey, err := parseECDSAPublicKey(pubKeyPEM)
	if err != nil {
		return adminID, fmt.Errorf("configured key: %w", err)
	}

	signature, err := base64.StdEncoding.DecodeString(r.Header.Get(HeaderAdminSignature))
	if err != nil || len(signature) == 0 {
		return adminID, errors.New("missing or malformed signature")
	}

	var body []byte
	if r.Body != nil {
		if body, err = io.ReadAll(io.LimitReader(r.Body, maxAdminBodySize)); err != nil {
			return adminID, fmt.Errorf("read body: %w", err)
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if !ecdsa.VerifyASN1(pubKey, AdminRequestDigest(r.URL.Path, body), signature) {
		return adminID, errors.New("signature does not verify")
	}
	return adminID, nil
}

// AdminRequestDigest is what an admin signs for a request: SHA256(path || body).
func AdminRequestDigest(path string, body []byte) []byte {
	digest := sha256.Sum256(append([]byte(path), body...))
	return digest[:]
}

// CreateSignedAdminRequest builds a request authenticated as adminID.
func CreateSignedAdminRequest(method, url string, body []byte, adminID string, privateKey *ecdsa.PrivateKey) (*http.Request, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, AdminRequestDigest(req.URL.Path, body))
	if err != nil {
		return nil, fmt.Errorf("failed to sign admin request: %w", err)
	}

	req.Header.Set(HeaderAdminID, adminID)
	req.Header.Set(HeaderAdminSignature, base64.StdEncoding.EncodeToString(signature))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func decodePEM(raw []byte, what string) ([]byte, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", what)
	}
	return block.Bytes, nil
}

func parseECDSAPublicKey(pubKeyPEM []byte) (*ecdsa.PublicKey, error) {
	der, err := decodePEM(pubKeyPEM, "public key")
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	if key, ok := parsed.(*ecdsa.PublicKey); ok {
		return key, nil
	}
	return nil, fmt.Errorf("admin key is a %T, not ECDSA", parsed)
}

// ParsePrivateKey reads an admin's "EC PRIVATE KEY" PEM.
func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	der, err := decodePEM(privateKeyPEM, "private key")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}
	return key, nil
}

// LoadAdminKeys reads {"admins": [{"id": ..., "pubkey": <PEM>}]}. Every key
// must be an ECDSA public key.
func LoadAdminKeys(r io.Reader) (map[string][]byte, error) {
	var file struct {
		Admins []struct {
			ID     string `json:"id"`
			PubKey string `json:"pubkey"`
		} `json:"admins"`
	}
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys: %w", err)
	}

	keys := make(map[string][]byte, len(file.Admins))
	for _, admin := range file.Admins {
		if _, err := parseECDSAPublicKey([]byte(admin.PubKey)); err != nil {
			return nil, fmt.Errorf("admin %s: %w", admin.ID, err)
		}
		keys[admin.ID] = []byte(admin.PubKey)
	}
	return keys, nil
}

// GenerateAdminKeyPair returns a fresh P-256 admin key as private and public
// PEM.
func GenerateAdminKeyPair() (privateKeyPEM, publicKeyPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate admin key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})),
		string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})), nil
}
