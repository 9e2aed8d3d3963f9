package service

import (
	"os"
	"testing"

	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init(&logger.Config{Level: "error", Format: "console", ServiceName: "chainmmo-test"})
	os.Exit(m.Run())
}
