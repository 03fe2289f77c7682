package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/dedupeit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorText(err))
		os.Exit(1)
	}
}
