package main

import "github.com/forPelevin/autoshort/internal/cli"

func main() {
	cli.Main()
}
