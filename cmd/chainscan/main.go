package main

import "github.com/vietddude/chainscan/internal/cli"

func main() {
	cli.Execute()
}
