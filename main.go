package main

import (
	"os"

	"github.com/blacktop/pagecast/cmd"
	"github.com/blacktop/pagecast/internal/logutil"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logutil.Errorf("%v", err)
		os.Exit(1)
	}
}
