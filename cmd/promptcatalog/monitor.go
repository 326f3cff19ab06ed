package main

import (
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Health monitor commands",
}

var monitorEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation of every alert policy and print the outcome",
	Long: `Evaluate the pipeline-execution-failures and warehouse-write-failures
policies once against the signals stored in the warehouse. Incidents are
opened, re-notified or closed exactly as the scheduled evaluation would.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		results, err := a.monitor.Evaluate(cmd.Context())
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), outputFormat, results)
	},
}

var monitorIncidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List alert incidents, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		incidents, err := a.monitor.ListIncidents(cmd.Context(), openOnly, 0)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), outputFormat, incidents)
	},
}

var openOnly bool

func init() {
	monitorIncidentsCmd.Flags().BoolVar(&openOnly, "open", false, "only list open incidents")
	monitorCmd.AddCommand(monitorEvaluateCmd, monitorIncidentsCmd)
}
