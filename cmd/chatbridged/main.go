package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatbridge/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "chatbridge.toml", "path to config file")
	flag.Parse()

	if _, err := os.Stat(*configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: config file %s not found\n", *configFlag)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
