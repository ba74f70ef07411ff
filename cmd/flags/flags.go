package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/secret-compute-enclave/common"
	"github.com/ruteri/secret-compute-enclave/config"
	"github.com/ruteri/secret-compute-enclave/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads the config file and lets explicitly set flags win.
func LoadConfig(cCtx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFileFlag.Name))
	if err != nil {
		return config.Config{}, err
	}

	if cCtx.IsSet(ListenAddrFlag.Name) {
		cfg.ListenAddr = cCtx.String(ListenAddrFlag.Name)
	}
	if cCtx.IsSet(MetricsAddrFlag.Name) {
		cfg.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(SealingURIsFlag.Name) {
		cfg.SealingURIs = cCtx.StringSlice(SealingURIsFlag.Name)
	}
	if cCtx.IsSet(AttestationFlag.Name) {
		cfg.Attestation = cCtx.String(AttestationFlag.Name)
	}
	if cCtx.IsSet(Bech32PrefixFlag.Name) {
		cfg.Bech32Prefix = cCtx.String(Bech32PrefixFlag.Name)
	}
	return cfg, cfg.Validate()
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, cfg config.Config) *httpserver.ServerConfig {
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &httpserver.ServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	EnvVars: []string{"ENCLAVE_CONFIG"},
	Usage:   "path to a YAML config file",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var SealingURIsFlag = &cli.StringSliceFlag{
	Name:  "sealing-uri",
	Usage: "where sealed seeds are kept (file://, s3://, vault://, keyring://), may be repeated",
}

var AttestationFlag = &cli.StringFlag{
	Name:  "attestation",
	Value: "dummy",
	Usage: "attestation provider: qemu-tdx, remote or dummy",
}

var AttestationAddrFlag = &cli.StringFlag{
	Name:  "attestation-addr",
	Usage: "quote service address for the remote attestation provider",
}

var Bech32PrefixFlag = &cli.StringFlag{
	Name:  "bech32-prefix",
	Value: "secret",
	Usage: "account address prefix of the chain",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
