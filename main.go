package main

import "github.com/varalys/osintkit/cmd/osintkit"

func main() { osintkit.Execute() }
