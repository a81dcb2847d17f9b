package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger: JSON in production, console
// otherwise.
func New(appEnv string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(appEnv) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
