// Package main is the entry point for the gremlins CLI.
package main

import "github.com/mikelane/gremlins/cmd"

func main() {
	cmd.Execute()
}
