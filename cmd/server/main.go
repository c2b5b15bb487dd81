package main

import "dhs-api/internal/cli"

func main() {
	cli.Execute()
}
