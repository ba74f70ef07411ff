package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/secret-compute-enclave/interfaces"
)

// VaultBackend implements a sealer on a Vault KV v2 mount. Blobs are stored
// base64-encoded under the "sealed" key.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// VaultOptions configures a VaultBackend. Either Token or ClientCert
// authenticates the client.
type VaultOptions struct {
	Address    string
	MountPath  string
	DataPath   string
	Token      string
	ClientCert *tls.Certificate
}

func NewVaultBackend(opts VaultOptions, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = opts.Address

	if opts.ClientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{*opts.ClientCert},
				},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if opts.Token != "" {
		client.SetToken(opts.Token)
	}

	mountPath := strings.Trim(opts.MountPath, "/")
	dataPath := strings.Trim(opts.DataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(opts.Address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) Seal(ctx context.Context, data []byte, path string) error {
	secretPath, err := b.secretPath("data", path)
	if err != nil {
		return err
	}

	start := time.Now()
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"sealed": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, secretPath, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", secretPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Sealed data to Vault",
		slog.String("path", secretPath),
		slog.Duration("duration", time.Since(start)))

	return nil
}

func (b *VaultBackend) Unseal(ctx context.Context, path string) ([]byte, error) {
	secretPath, err := b.secretPath("data", path)
	if err != nil {
		return nil, err
	}

	secret, err := b.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", secretPath),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrSealedDataNotFound
	}

	// KV v2 returns a nil data map for soft-deleted versions
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, interfaces.ErrSealedDataNotFound
	}

	encoded, ok := data["sealed"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid sealed data format in Vault response")
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid sealed data encoding in Vault response: %w", err)
	}
	return decoded, nil
}

// Remove deletes all versions and metadata of path.
func (b *VaultBackend) Remove(ctx context.Context, path string) error {
	metadataPath, err := b.secretPath("metadata", path)
	if err != nil {
		return err
	}

	if _, err := b.client.Logical().DeleteWithContext(ctx, metadataPath); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this sealing backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this sealing backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(kind string, path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	if b.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", b.mountPath, kind, path), nil
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, path), nil
}
