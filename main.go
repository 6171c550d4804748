package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/temirov/auditgate/cmd/cli"
	"github.com/temirov/auditgate/internal/audit"
)

const (
	exitErrorTemplateConstant = "%v\n"
	failureExitCodeConstant   = 1
	blockedExitCodeConstant   = 2
)

// main executes the auditgate command-line application. Blocking verdicts
// exit with a distinct status so pipelines can tell them from failures.
func main() {
	executionError := cli.Execute()
	if executionError == nil {
		return
	}
	fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
	var blockingError *audit.BlockingVerdictError
	if errors.As(executionError, &blockingError) {
		os.Exit(blockedExitCodeConstant)
	}
	os.Exit(failureExitCodeConstant)
}
