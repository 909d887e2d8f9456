package main

import "github.com/mpender/metawatch/internal/cli"

func main() {
	cli.Execute()
}
