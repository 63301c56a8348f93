package main

import (
	"github.com/avstrong/innkeeper/internal/cli"
)

func main() {
	cli.Execute()
}
