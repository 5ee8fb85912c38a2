package main

import "github.com/ppiankov/sandguard/internal/cli"

func main() {
	cli.Execute()
}
