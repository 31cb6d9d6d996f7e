package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// TestModeEnv mematikan efek samping startup (konvergensi tabel, worker).
const TestModeEnv = "PONDOK_TEST_MODE"

var testMode = sync.OnceValue(readTestMode)

func readTestMode() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	return err == nil && on
}

// InTestMode reports whether PONDOK_TEST_MODE is set to a true value.
// The variable is read once per process.
func InTestMode() bool {
	return testMode()
}
