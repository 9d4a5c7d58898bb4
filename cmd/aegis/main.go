package main

import (
	"os"

	"github.com/aegis-sec/aegis/cmd/aegis/commands"
)

func main() {
	cmd := commands.NewCommand()
	err := cmd.Execute()
	os.Exit(commands.ExitCode(cmd, err))
}
