package main

import "github.com/kestrel-lang/kestrel/cmd/kestrel-heap/commands"

var version = "dev"

func main() {
	commands.SetVersion(version)
	commands.Execute()
}
