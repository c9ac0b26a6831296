package testlogger

import (
	"os"
	"testing"

	"github.com/ideal-lab5/etf-cli/common/log"
)

// Level returns the test log level: debug when ETF_TEST_LOGS=DEBUG, info otherwise.
func Level(t testing.TB) int {
	if v, ok := os.LookupEnv("ETF_TEST_LOGS"); ok && v == "DEBUG" {
		t.Log("Enabling DebugLevel logs")
		return log.DebugLevel
	}
	return log.InfoLevel
}

// New returns a logger tagged with the test name.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}
