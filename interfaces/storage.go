package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrSealedDataNotFound is returned when no sealed blob exists at the path.
	ErrSealedDataNotFound = errors.New("sealed data not found")

	// ErrBackendUnavailable is returned when a sealing backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("sealing backend unavailable")

	// ErrInvalidLocationURI is returned when a sealing location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid sealing location URI")
)

// Sealer persists enclave-private blobs such as the consensus seeds. Paths are
// logical names like "consensus_seed.sealed"; each backend maps them onto its
// own namespace.
type Sealer interface {
	// Seal stores data under path, replacing any previous value.
	Seal(ctx context.Context, data []byte, path string) error

	// Unseal returns the data stored under path or ErrSealedDataNotFound.
	Unseal(ctx context.Context, path string) ([]byte, error)

	// Remove deletes path. Removing a missing path is not an error.
	Remove(ctx context.Context, path string) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// SealerLocation represents the URI of a sealing backend.
type SealerLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
}

// NewSealerLocation parses and validates a sealing backend URI.
func NewSealerLocation(uri string) (SealerLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return SealerLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "vault", "keyring":
	default:
		return SealerLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return SealerLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}, nil
}

// String returns the original URI string.
func (loc SealerLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc SealerLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc SealerLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}
