package main

import (
	"fmt"
	"os"

	"chatsync/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defer logger.Sync()
	return rootCmd.Execute()
}
