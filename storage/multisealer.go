package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/secret-compute-enclave/interfaces"
)

// MultiSealer implements interfaces.Sealer over several backends. Seal
// writes to every available backend, Unseal reads from the first one that
// has the data.
type MultiSealer struct {
	backends []interfaces.Sealer
	log      *slog.Logger
}

func NewMultiSealer(backends []interfaces.Sealer, logger *slog.Logger) *MultiSealer {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiSealer{
		backends: backends,
		log:      logger,
	}
}

// Seal succeeds if at least one backend stored the data.
func (m *MultiSealer) Seal(ctx context.Context, data []byte, path string) error {
	start := time.Now()
	var errs []error
	stored := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := backend.Seal(ctx, data, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to seal to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All backends failed to seal data",
			slog.String("path", path),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: all backends failed to seal %s: %w", interfaces.ErrBackendUnavailable, path, errors.Join(errs...))
	}

	m.log.Info("Sealed data",
		slog.String("path", path),
		slog.Int("backends", stored),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Unseal returns ErrSealedDataNotFound only if every reachable backend
// reported the path as missing.
func (m *MultiSealer) Unseal(ctx context.Context, path string) ([]byte, error) {
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		data, err := backend.Unseal(ctx, path)
		if err == nil {
			m.log.Debug("Unsealed data",
				slog.String("backend_name", backend.Name()),
				slog.String("path", path))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrSealedDataNotFound) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if notFound > 0 && notFound == len(errs) {
		return nil, interfaces.ErrSealedDataNotFound
	}

	return nil, fmt.Errorf("%w: all backends failed to unseal %s: %w", interfaces.ErrBackendUnavailable, path, errors.Join(errs...))
}

func (m *MultiSealer) Remove(ctx context.Context, path string) error {
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Remove(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Available checks if any backend is available
func (m *MultiSealer) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiSealer) Name() string {
	return "multi-sealer"
}

func (m *MultiSealer) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
