package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuitang/blogcheck/internal/browser"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/scenario"
	"github.com/kuitang/blogcheck/internal/twin"
)

func newScenariosCmd(c *cli) *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the scenario catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("run") {
				pattern = c.cfg.Runner.Run
			}
			cases, err := scenario.Filter(scenario.Cases(), pattern)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tc := range cases {
				fmt.Fprintf(out, "%s (%d steps)\n", tc.FullName(), len(tc.Steps))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "run", "", "only list cases whose full name matches this regexp")
	return cmd
}

func newTwinCmd(c *cli) *cobra.Command {
	var addr, dbPath string
	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Serve the built-in blog application until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := &c.cfg.Twin
			if cmd.Flags().Changed("addr") {
				tw.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				tw.DatabasePath = dbPath
			}
			if err := c.cfg.ValidateTwin(); err != nil {
				return err
			}

			srv, err := twin.New(twin.Options{Config: *tw, Version: version})
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "blog twin on http://%s (Ctrl+C to stop)\n", tw.Addr)
			if err := srv.Run(ctx); err != nil {
				return err
			}
			obs.Pkg("blogcheck").Info("twin_stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from TWIN_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite file; empty keeps data in memory")
	return cmd
}

func newInstallCmd(c *cli) *cobra.Command {
	var browsers []string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the Playwright driver and browsers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(browsers) == 0 {
				browsers = []string{c.cfg.Runner.Browser}
			}
			return browser.Install(browsers...)
		},
	}
	cmd.Flags().StringSliceVar(&browsers, "browser", nil, "browsers to install (default: the configured browser)")
	return cmd
}
