// Package main is responsible for the main func of webrelay.  The actual work
// is done in the cmd package.
package main

import "github.com/ameshkov/webrelay/internal/cmd"

func main() {
	cmd.Main()
}
