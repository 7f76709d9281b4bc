package main

import (
	"os"

	"github.com/goliatone/go-collection-cache/cmd/collectionctl/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
