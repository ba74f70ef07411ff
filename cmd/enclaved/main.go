package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/secret-compute-enclave/cmd/flags"
	"github.com/ruteri/secret-compute-enclave/common"
	"github.com/ruteri/secret-compute-enclave/config"
	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/enclave"
	"github.com/ruteri/secret-compute-enclave/httpserver"
	"github.com/ruteri/secret-compute-enclave/interfaces"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/ruteri/secret-compute-enclave/metrics"
	"github.com/ruteri/secret-compute-enclave/storage"
	"github.com/urfave/cli/v2"
)

var flagInitSeed = &cli.BoolFlag{
	Name:  "init-seed",
	Value: false,
	Usage: "generate fresh consensus seeds when none are sealed yet (network genesis only)",
}

var flagAdminKeys = &cli.StringFlag{
	Name:  "admin-keys-file",
	Usage: "JSON file with admin public keys; enables the /admin seed bootstrap API",
}

var flagDisableHostAPI = &cli.BoolFlag{
	Name:  "disable-host-api",
	Value: false,
	Usage: "do not serve the /api/host contract call endpoints",
}

func main() {
	appFlags := []cli.Flag{
		flags.ConfigFileFlag,
		flags.ListenAddrFlag,
		flags.SealingURIsFlag,
		flags.AttestationFlag,
		flags.AttestationAddrFlag,
		flags.Bech32PrefixFlag,
		flags.LogServiceFlagFn("enclaved"),
		flagInitSeed,
		flagAdminKeys,
		flagDisableHostAPI,
	}
	appFlags = append(appFlags, flags.CommonFlags...)

	app := &cli.App{
		Name:  "enclaved",
		Usage: "Run the confidential contract enclave node",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				logger.Error("Failed to load configuration", "err", err)
				return err
			}

			keys, err := setupKeys(cCtx, logger, cfg)
			if err != nil {
				return err
			}

			attestation, err := cryptoutils.AttestationProviderFromString(cfg.Attestation, cCtx.String(flags.AttestationAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create attestation provider", "err", err)
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			handlers := httpserver.Handlers{
				Public: httpserver.NewHandler(keys, attestation, logger),
			}

			if !cCtx.Bool(flagDisableHostAPI.Name) {
				e := enclave.New(enclave.Opts{
					Keys:    keys,
					Engine:  enclave.NewExtismEngine(logger.With("component", "engine")),
					Addrs:   cosmos.NewAddressCodec(cfg.Bech32Prefix),
					Metrics: metricsSrv.Pipeline(),
					Log:     logger.With("component", "enclave"),
				})
				handlers.Host = httpserver.NewHostHandler(e, logger)
			}

			if path := cCtx.String(flagAdminKeys.Name); path != "" {
				adminKeys, err := loadAdminKeys(path)
				if err != nil {
					logger.Error("Failed to load admin keys", "err", err)
					return err
				}
				logger.Info("Admin keys loaded successfully", "count", len(adminKeys))
				handlers.Admin = httpserver.NewAdminHandler(logger, keys, adminKeys)
			}

			if !keys.IsInitialized() && handlers.Admin == nil {
				return errors.New("no sealed consensus seeds: pass --init-seed or --admin-keys-file")
			}

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cfg), metricsSrv, handlers)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "initialized", keys.IsInitialized())
			server.RunInBackground()

			if handlers.Admin != nil && !keys.IsInitialized() {
				go func() {
					if err := handlers.Admin.WaitForBootstrap(cCtx.Context); err == nil {
						logger.Info("Consensus seeds installed, node is operational")
					}
				}()
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setupKeys builds the sealing chain and loads the sealed seeds, generating
// them first when asked to.
func setupKeys(cCtx *cli.Context, logger *slog.Logger, cfg config.Config) (*kms.KeyHierarchy, error) {
	sealer, err := storage.NewSealerFactory(logger).CreateMultiSealer(cfg.SealingURIs)
	if err != nil {
		logger.Error("Failed to create sealing backends", "err", err)
		return nil, err
	}

	sealingKey, err := cfg.SealingKeyBytes()
	if err != nil {
		return nil, err
	}
	if sealingKey != nil {
		sealer = storage.NewSoftwareSealer(sealer, cryptoutils.NewAESKeyFromSlice(sealingKey))
	}

	keys := kms.NewKeyHierarchy(sealer, logger.With("component", "kms"))
	err = keys.LoadSealedSeeds(cCtx.Context)
	switch {
	case err == nil:
		return keys, nil
	case !errors.Is(err, interfaces.ErrSealedDataNotFound):
		logger.Error("Failed to load sealed seeds", "err", err, "sealer", sealer.Name())
		return nil, err
	case cCtx.Bool(flagInitSeed.Name):
		if _, err := keys.CreateConsensusSeed(cCtx.Context); err != nil {
			logger.Error("Failed to create consensus seeds", "err", err)
			return nil, err
		}
		return keys, nil
	default:
		logger.Warn("No sealed consensus seeds found", "sealer", sealer.Name())
		return keys, nil
	}
}

func loadAdminKeys(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open admin keys file: %w", err)
	}
	defer f.Close()
	return httpserver.LoadAdminKeys(f)
}
