package main

import (
	"fmt"
	"os"

	"github.com/alena-kono/ugc-service-2/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "etl: %v\n", err)
		os.Exit(1)
	}
}
