package main

import "agriassist-prices/internal/cli"

func main() {
	cli.Execute()
}
