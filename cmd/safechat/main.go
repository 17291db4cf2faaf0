package main

import (
	"os"

	"safechat/cmd/safechat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
