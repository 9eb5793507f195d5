package main

import "eventmanager/cmd/cli/command"

func main() {
	command.Execute()
}
