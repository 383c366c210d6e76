// Package common builds the dependencies shared by every subcommand.
package common

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Teqed/FediFetcher-sub000/internal/config"
	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

var (
	// ErrLoggerRequired is returned when CommandDeps.Logger is nil.
	ErrLoggerRequired = errors.New("logger is required")
	// ErrConfigRequired is returned when CommandDeps.Config is nil.
	ErrConfigRequired = errors.New("config is required")
)

// CommandDeps carries the validated configuration and the logger into a
// subcommand's RunE.
type CommandDeps struct {
	Logger logger.Interface
	Config *config.Config
}

// Validate ensures all required dependencies are present.
func (d CommandDeps) Validate() error {
	if d.Logger == nil {
		return ErrLoggerRequired
	}
	if d.Config == nil {
		return ErrConfigRequired
	}
	return nil
}

// NewCommandDeps loads the configuration and creates the logger. cfgFile
// may be empty, in which case the default search paths apply. debug
// forces debug-level console output regardless of config.
func NewCommandDeps(cfgFile string, debug bool) (CommandDeps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return CommandDeps{}, fmt.Errorf("load config: %w", err)
	}

	development := debug || cfg.Debug
	level := logger.LevelFromInt(cfg.LogLevel)
	if development {
		level = logger.DebugLevel
	}

	log, err := logger.New(&logger.Config{
		Level:       level,
		Development: development,
	})
	if err != nil {
		return CommandDeps{}, fmt.Errorf("create logger: %w", err)
	}

	deps := CommandDeps{
		Logger: log,
		Config: cfg,
	}

	if validateErr := deps.Validate(); validateErr != nil {
		return CommandDeps{}, fmt.Errorf("validate deps: %w", validateErr)
	}

	return deps, nil
}

// FromCommand builds CommandDeps from the persistent flags of an
// executing command. Subcommands call this at the top of their RunE.
func FromCommand(cmd *cobra.Command) (CommandDeps, error) {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return CommandDeps{}, fmt.Errorf("read config flag: %w", err)
	}
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return CommandDeps{}, fmt.Errorf("read debug flag: %w", err)
	}
	return NewCommandDeps(cfgFile, debug)
}
