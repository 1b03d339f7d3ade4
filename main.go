package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ssoutil/ssoutil/cmd"
	errUtils "github.com/ssoutil/ssoutil/errors"
)

func main() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		// Exit with the POSIX convention of 128 + signal number.
		if s, ok := sig.(syscall.Signal); ok {
			errUtils.OsExit(128 + int(s))
		}
		errUtils.OsExit(130)
	}()

	errUtils.OsExit(run())
}

// run executes the CLI and returns the exit code. The separation keeps
// deferred cleanup working; os.Exit in main would skip it.
func run() int {
	err := cmd.Execute()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return errUtils.GetExitCode(err)
	}
	return 0
}
