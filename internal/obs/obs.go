// Package obs wires the process-wide zap logger. Leaf packages never
// construct their own logger; they call zap.L()/zap.S() directly, the
// same convention the payment and blockchain packages this gateway is
// descended from use throughout.
package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Configure installs the global zap logger. debug selects a
// development console encoder at Debug level; otherwise a production
// JSON encoder at Info level is used.
func Configure(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
