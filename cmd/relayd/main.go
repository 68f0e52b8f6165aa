package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/matheus3301/wpprelay/internal/config"
	"github.com/matheus3301/wpprelay/internal/daemon"
	"github.com/matheus3301/wpprelay/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default $WPPRELAY_HOME/config.toml)")
	envFlag := flag.String("env", "", "dotenv file (default $WPPRELAY_HOME/.env)")
	debugFlag := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	envPath := *envFlag
	if envPath == "" {
		envPath = session.EnvPath()
	}
	// Existing environment variables win over the file.
	if err := godotenv.Load(envPath); err != nil && (*envFlag != "" || !errors.Is(err, os.ErrNotExist)) {
		fail("load %s: %v", envPath, err)
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail("%v", err)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath()
	}
	var (
		cfg *config.Config
		err error
	)
	if *configFlag != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadOrDefault(configPath)
	}
	if err != nil {
		fail("%v", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		fail("config %s: %v", configPath, err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Config:      cfg,
			Debug:       *debugFlag,
		}),
	)

	app.Run()
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
