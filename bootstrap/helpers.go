package bootstrap

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"argus/action"
	"argus/config"
	"argus/notify"
)

// InitLogger builds the process logger before configuration is available, so
// config loading failures are still readable.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		zapcore.DebugLevel,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// channelsFromConfig maps configured notification channels onto the
// notifier's channel model.
func channelsFromConfig(cfg *config.Config) []notify.Channel {
	channels := make([]notify.Channel, 0, len(cfg.Notifications.Channels))
	for _, ch := range cfg.Notifications.Channels {
		channels = append(channels, notify.Channel{
			ID:         ch.Name,
			Name:       ch.Name,
			Type:       notify.ChannelType(ch.Type),
			Enabled:    ch.Enabled,
			Severities: ch.Severities,
			Categories: ch.Categories,
			Recipients: ch.Recipients,
		})
	}
	return channels
}

// buildExecutor assembles the action dispatch table. The escalate handler is
// registered later, once the incident manager exists.
func buildExecutor(cfg *config.Config, notifier *notify.Notifier, sugar *zap.SugaredLogger) *action.Executor {
	executor := action.NewExecutor(0, sugar)
	executor.Register(action.NewLogAction(sugar))
	executor.Register(action.NewAlertAction(action.NewLogAlertSink(sugar), sugar))

	enforcer := action.NewLogEnforcer(sugar)
	executor.Register(action.NewBlockAction(enforcer, sugar))
	executor.Register(action.NewQuarantineAction(enforcer, sugar))

	executor.Register(action.NewNotifyAction(notifier, cfg.Notifications.RateLimitPerMinute, sugar))
	return executor
}
