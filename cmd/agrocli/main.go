package main

import "agrobot/cmd/agrocli/cmd"

func main() {
	cmd.Execute()
}
