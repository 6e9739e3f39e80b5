package main

import "github.com/theirongolddev/cbench/cmd"

func main() {
	cmd.Execute()
}
