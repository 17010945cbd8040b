package main

import "github.com/pricefeed/pricefeed/internal/cli"

func main() {
	cli.Execute()
}
