package main

import "github.com/bryanchriswhite/focushist/cmd/focushist/commands"

func main() {
	commands.Execute()
}
