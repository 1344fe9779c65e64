// Package main provides the toxcall CLI.
//
// Usage:
//
//	toxcall run [flags]     start a call node
//	toxcall keygen          print a new key pair
//	toxcall version         print the build version
//
// Configuration comes from a .env file and TOXCALL_* environment
// variables; run flags override them.
package main

import (
	"fmt"
	"os"

	"github.com/opd-ai/toxcall/cmd/toxcall/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
