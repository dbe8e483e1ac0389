// Package main is the entry point of resilioctl.
package main

import (
	"os"

	"github.com/camerontarget14/resilio-connect-scripts/cmd/resilioctl/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
