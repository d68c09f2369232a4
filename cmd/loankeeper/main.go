package main

import (
	"loankeeper/internal/cli"
)

func main() {
	cli.Execute()
}
