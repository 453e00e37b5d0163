package service

import (
	"os"
	"testing"

	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/observability"
)

func TestMain(m *testing.M) {
	cfg := config.NewDefaultConfig()
	logCfg := cfg.Logger()
	logCfg.Level = "debug"
	logCfg.ServiceName = "service-test"
	observability.InitializeLogger(logCfg)

	exitCode := m.Run()

	observability.Sync()
	os.Exit(exitCode)
}
