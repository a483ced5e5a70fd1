package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/noblelift/noblelift-client/internal/config"
)

const logFileName = "noblelift-client.log"

var usage = strings.TrimSpace(dedent.Dedent(`
	Usage: noblelift-client <command> [flags]

	Commands:
	  setup      write config.env interactively
	  login      sign in with e-mail and password
	  logout     sign out and forget stored tokens
	  whoami     show the signed-in user
	  tasks      list your tasks (-available for all open tasks)
	  vehicles   list fleet vehicles
	  topics     list task topics (-delete ID to remove one)
	  watch      keep the session alive and serve metrics

	Configuration is read from the environment and from
	config.env in the user config directory.
`))

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]

	config.LoadEnvFile()
	cfg := config.Load()

	closeLog := setupLogging(cfg.LogLevel)
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, cfg, name, args)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	fmt.Fprintln(os.Stderr, errorStyle.Render(userMessage(err)))
	log.Debug().Err(err).Str("command", name).Msg("command failed")
	closeLog()
	waitOnWindows()
	os.Exit(1)
}

// setupLogging points the global logger at stderr and, outside systemd, at a
// log file in the config directory as well. The returned func closes the
// file.
func setupLogging(level string) func() {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}

	// JOURNAL_STREAM is set by systemd when running as a service.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(consoleWriter)
		return func() {}
	}

	if err := config.EnsureConfigDir(); err != nil {
		log.Logger = log.Output(consoleWriter)
		log.Warn().Err(err).Msg("could not create config directory, logging to stderr only")
		return func() {}
	}

	logPath := config.ConfigPath(logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Logger = log.Output(consoleWriter)
		log.Warn().Err(err).Str("logFile", logPath).Msg("failed to open log file")
		return func() {}
	}

	fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
	log.Debug().Str("logFile", logPath).Msg("logging to file")

	var closed bool
	return func() {
		if !closed {
			closed = true
			logFile.Close()
		}
	}
}
