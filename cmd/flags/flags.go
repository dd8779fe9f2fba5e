// Package flags holds the CLI flags and setup helpers shared by the
// dispatch-server and devicectl commands.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/avolkens/device-dispatch-backend/common"
	"github.com/avolkens/device-dispatch-backend/httpserver"
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

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var StoreURIFlag = &cli.StringFlag{
	Name:  "store-uri",
	Value: "redis://127.0.0.1:6379/0",
	Usage: "coordination store URI (redis://, rediss://, memory://)",
}

var RegistryURIFlag = &cli.StringFlag{
	Name:  "registry-uri",
	Value: "file://./device-keys",
	Usage: "key registry URI (memory://, file://, vault://, s3://)",
}

var DeviceFlag = &cli.StringFlag{
	Name:     "device",
	Required: true,
	Usage:    "target device identifier",
}

var LockTTLFlag = &cli.DurationFlag{
	Name:  "lock-ttl",
	Value: 10 * time.Second,
	Usage: "per-device dispatch lock TTL",
}
var LockPollFlag = &cli.DurationFlag{
	Name:  "lock-poll",
	Value: 100 * time.Millisecond,
	Usage: "lock acquisition poll interval",
}
var LockGraceFlag = &cli.DurationFlag{
	Name:  "lock-grace",
	Value: 2 * time.Second,
	Usage: "extra wait beyond the lock TTL before giving up acquisition",
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
