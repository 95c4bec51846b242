package main

import (
	"os"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/ctl"
)

func main() {
	if err := ctl.Execute(); err != nil {
		os.Exit(1)
	}
}
