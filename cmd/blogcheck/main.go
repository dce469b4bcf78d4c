// Command blogcheck drives a browser through the blog list application's user
// flows and reports which ones hold.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuitang/blogcheck/internal/config"
	"github.com/kuitang/blogcheck/internal/logutil"
	"github.com/kuitang/blogcheck/internal/obs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errCasesFailed signals a completed run with at least one non-passing case.
var errCasesFailed = errors.New("one or more cases did not pass")

// cli holds state shared by the subcommands.
type cli struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errCasesFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "blogcheck",
		Short:         "Browser end-to-end checks for the blog list application",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "TOML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		newRunCmd(c),
		newScenariosCmd(c),
		newTwinCmd(c),
		newInstallCmd(c),
	)
	return root
}

// load reads defaults, the config file and the environment, then sets up
// logging. Flags are applied by each subcommand.
func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg

	obs.Init()
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	obs.Pkg("blogcheck").Debug("config_loaded", "path", c.configPath, "config", logutil.RedactValue(cfg))
	return nil
}
