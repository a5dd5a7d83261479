package main

import "parkeaya/cmd/server/command"

func main() {
	command.Execute()
}
