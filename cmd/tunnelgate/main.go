package main

import (
	"fmt"
	"os"

	"tunnelgate/cmd/internal/app"
)

func main() {
	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "tunnelgate:", err)
		os.Exit(1)
	}
}
