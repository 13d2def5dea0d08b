package main

import "orca/internal/cli"

func main() {
	cli.Execute()
}
