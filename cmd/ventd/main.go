package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/ventchat/internal/daemon"
	"github.com/matheus3301/ventchat/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	levelFlag := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, LogLevel: *levelFlag}),
	)

	app.Run()
}
