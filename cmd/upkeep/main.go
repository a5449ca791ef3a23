package main

import (
	"os"
	"strings"

	"example.com/upkeep/internal/cli"
)

func main() {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args[1:], env))
}
