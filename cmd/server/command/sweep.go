package command

import (
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run every expiry sweep once",
	Long: `Run every expiry sweep once and exit. It is meant for external
schedulers; "serve" already runs the sweeps on SWEEP_SCHEDULE.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.jobs.RunAll(cmd.Context())
	},
}
