package main

import (
	"os"

	"github.com/go-delve/dbgcheck/cmd/dbgcheck/cmds"
	"github.com/go-delve/dbgcheck/pkg/verify"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(verify.ExitSetupFailed)
	}
}
