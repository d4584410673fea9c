// Package osintkit provides the command-line interface for the osintkit tool.
// It configures subcommands (scan, formats, rules, baseline, config), parses
// flags, and executes the selected command.
//
// Typical usage from a main package:
//
//	package main
//	import "github.com/varalys/osintkit/cmd/osintkit"
//	func main() { osintkit.Execute() }
package osintkit
