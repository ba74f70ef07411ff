package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/secret-compute-enclave/interfaces"
)

// SealerFactory creates sealing backends from URI strings.
type SealerFactory struct {
	log *slog.Logger
}

func NewSealerFactory(logger *slog.Logger) *SealerFactory {
	return &SealerFactory{log: logger}
}

// SealerFor creates a sealing backend from a location URI.
//
// Supported schemes:
//   - file:///absolute/path or file://./relative/path
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=...&force_path_style=true
//   - vault://host:port/mount/path?token=...&tls=false
//   - keyring://service-name
func (sf *SealerFactory) SealerFor(locationURI string) (interfaces.Sealer, error) {
	loc, err := interfaces.NewSealerLocation(locationURI)
	if err != nil {
		return nil, err
	}

	sf.log.Debug("Creating sealing backend", slog.String("scheme", loc.Scheme), slog.String("host", loc.Host))

	switch loc.Scheme {
	case "file":
		return sf.createFileBackend(loc)
	case "s3":
		return sf.createS3Backend(locationURI, loc)
	case "vault":
		return sf.createVaultBackend(loc)
	case "keyring":
		return sf.createKeyringBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiSealer builds a MultiSealer from every URI that yields a valid
// backend. Returns an error if none does.
func (sf *SealerFactory) CreateMultiSealer(locationURIs []string) (interfaces.Sealer, error) {
	backends := make([]interfaces.Sealer, 0, len(locationURIs))

	for _, uri := range locationURIs {
		backend, err := sf.SealerFor(uri)
		if err != nil {
			sf.log.Warn("Failed to create sealing backend",
				"err", err,
				slog.String("locationURI", redactURI(uri)))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid sealing backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiSealer(backends, sf.log), nil
}

func (sf *SealerFactory) createFileBackend(loc interfaces.SealerLocation) (interfaces.Sealer, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}

	return NewFileBackend(path, sf.log)
}

func (sf *SealerFactory) createS3Backend(raw string, loc interfaces.SealerLocation) (interfaces.Sealer, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in s3 URI", interfaces.ErrInvalidLocationURI)
	}

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	opts := S3Options{
		Bucket:         loc.Host,
		Prefix:         strings.TrimPrefix(loc.Path, "/"),
		Region:         region,
		Endpoint:       loc.GetParam("endpoint"),
		ForcePathStyle: loc.GetParamBool("force_path_style"),
	}

	accessKey, secretKey := userInfo(raw)
	opts.AccessKey = accessKey
	opts.SecretKey = secretKey

	return NewS3Backend(opts, sf.log)
}

// createVaultBackend expects vault://host:port/mount[/path]. The first path
// segment is the KV v2 mount.
func (sf *SealerFactory) createVaultBackend(loc interfaces.SealerLocation) (interfaces.Sealer, error) {
	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if loc.Host == "" || parts[0] == "" {
		return nil, fmt.Errorf("%w: expected vault://host/mount/path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	opts := VaultOptions{
		Address:   fmt.Sprintf("%s://%s", scheme, loc.Host),
		MountPath: parts[0],
		Token:     loc.GetParam("token"),
	}
	if len(parts) == 2 {
		opts.DataPath = parts[1]
	}

	return NewVaultBackend(opts, sf.log)
}

func (sf *SealerFactory) createKeyringBackend(loc interfaces.SealerLocation) (interfaces.Sealer, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing service name in keyring URI", interfaces.ErrInvalidLocationURI)
	}
	return NewKeyringBackend(loc.Host, sf.log)
}
