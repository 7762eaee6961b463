// Command adinctl exercises the ADIN2111 driver against the device model
// and inspects recorded bus traces.
//
// Flags may also be set through ADIN_* environment variables, read from the
// process environment or a .env file: --redis is ADIN_REDIS, --log-level is
// ADIN_LOG_LEVEL and so on.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
