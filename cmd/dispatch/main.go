// Command dispatch runs report schedules outside the API process and previews
// recurrence rules.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/agent-portal/internal/config"
	"github.com/carelink/agent-portal/internal/dispatch"
	"github.com/carelink/agent-portal/internal/httpserver"
	"github.com/carelink/agent-portal/internal/logging"
	"github.com/carelink/agent-portal/internal/recurrence"
)

const drainTimeout = 2 * time.Minute

func main() {
	rootCmd := &cobra.Command{
		Use:          "dispatch",
		Short:        "Dispatch scheduled reports",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(nextCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// setup builds the wired services without serving HTTP.
func setup(ctx context.Context) (*httpserver.Server, *config.Config, zerolog.Logger, error) {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)
	for _, w := range cfg.Warnings {
		logger.Warn().Str("component", "config").Msg(w)
	}
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; dispatching against empty in-memory storage")
	}

	srv, err := httpserver.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, logger, err
	}
	return srv, cfg, logger, nil
}

// drain waits for report generations started by the dispatcher.
func drain(srv *httpserver.Server, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Reports().Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("report workers did not drain")
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single dispatch pass over due schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, _, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer srv.Close()

			res, err := srv.Schedules().DispatchDue(cmd.Context(), time.Now())
			drain(srv, logger)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func runCmd() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch due schedules on a cron tick until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv, cfg, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			defer srv.Close()

			if spec == "" {
				spec = cfg.SchedulerCron
			}
			scheduler, err := dispatch.New(srv.Schedules(), spec, logger)
			if err != nil {
				return err
			}
			if err := scheduler.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			scheduler.Stop()
			drain(srv, logger)
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron expression for the tick (default SCHEDULER_CRON)")
	return cmd
}

func nextCmd() *cobra.Command {
	var (
		rule       recurrence.Schedule
		frequency  string
		dayOfWeek  int
		dayOfMonth int
		from       string
		count      int
	)

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the upcoming run times of a recurrence rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule.Frequency = recurrence.Frequency(frequency)
			rule.IsActive = true
			if cmd.Flags().Changed("day-of-week") {
				rule.DayOfWeek = &dayOfWeek
			}
			if cmd.Flags().Changed("day-of-month") {
				rule.DayOfMonth = &dayOfMonth
			}
			if err := rule.Validate(); err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}

			start := time.Now()
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from must be RFC 3339: %w", err)
				}
				start = t
			}

			runs, err := recurrence.Upcoming(rule, start, count)
			if err != nil {
				return err
			}
			loc, err := rule.Location()
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", run.UTC().Format(time.RFC3339), run.In(loc).Format("Mon 2006-01-02 15:04 MST"))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&frequency, "frequency", string(recurrence.Daily), "daily, weekly, monthly, quarterly or yearly")
	f.IntVar(&dayOfWeek, "day-of-week", 0, "0 (Sunday) to 6, weekly schedules only")
	f.IntVar(&dayOfMonth, "day-of-month", 1, "1 to 31, monthly schedules only")
	f.IntVar(&rule.Hour, "hour", 9, "hour of day, 0 to 23")
	f.IntVar(&rule.Minute, "minute", 0, "minute, 0 to 59")
	f.StringVar(&rule.Timezone, "tz", "UTC", "IANA timezone of the rule")
	f.StringVar(&from, "from", "", "RFC 3339 start instant (default now)")
	f.IntVarP(&count, "count", "n", 5, "number of runs to print")
	return cmd
}
