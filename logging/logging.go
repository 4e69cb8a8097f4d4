package logging

import (
	"time"

	"github.com/zllovesuki/billsync/config"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a structured logger for the environment. Error level entries are
// forwarded to sentry and tagged with component. The returned func flushes
// both sinks and should be deferred by the caller.
func New(env config.Environment, component, version string) (*zap.Logger, func(), error) {
	var logger *zap.Logger
	var err error

	if env == config.EnvProduction {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, extErrors.Wrap(err, "Cannot initialize logger")
	}
	logger = logger.With(zap.String("Version", version))

	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(env),
		Release:     version,
		Debug:       env == config.EnvDevelopment,
	}); err != nil {
		return nil, nil, extErrors.Wrap(err, "Cannot initialize sentry")
	}

	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": component,
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		return nil, nil, extErrors.Wrap(err, "Cannot attach sentry to logger")
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	return logger, func() {
		sentry.Flush(time.Second * 2)
		logger.Sync()
	}, nil
}
