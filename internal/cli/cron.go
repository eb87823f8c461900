package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harun/nanobot/internal/daemon"
	"github.com/harun/nanobot/pkg/cron"
	"github.com/spf13/cobra"
)

var (
	cronListAll bool

	cronName           string
	cronMessage        string
	cronEvery          int
	cronExpr           string
	cronTZ             string
	cronAt             string
	cronDeliver        bool
	cronChannel        string
	cronTo             string
	cronDeleteAfterRun bool

	cronDisable bool
	cronForce   bool
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled agent tasks",
	Long: `Manage scheduled agent tasks. Jobs are executed by a running gateway;
changes made here take effect the next time the gateway starts.`,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runCronList,
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled job",
	Long: `Add a scheduled job. Exactly one of --every, --cron or --at is required.

Examples:
  nanobot cron add -n standup -m "Summarize my todo list" --cron "0 9 * * 1-5"
  nanobot cron add -n water -m "Remind me to drink water" --every 3600
  nanobot cron add -n call -m "Call mom" --at 2026-01-01T18:00:00 --deliver --channel telegram --to 12345`,
	Args: cobra.NoArgs,
	RunE: runCronAdd,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

var cronEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable or disable a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronEnable,
}

var cronRunCmd = &cobra.Command{
	Use:         "run <id>",
	Short:       "Run a job now and print the agent's reply",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{quietAnnotation: "true"},
	RunE:        runCronRun,
}

func init() {
	cronListCmd.Flags().BoolVarP(&cronListAll, "all", "a", false, "include disabled jobs")

	cronAddCmd.Flags().StringVarP(&cronName, "name", "n", "", "job name")
	cronAddCmd.Flags().StringVarP(&cronMessage, "message", "m", "", "message sent to the agent")
	cronAddCmd.Flags().IntVarP(&cronEvery, "every", "e", 0, "run every N seconds")
	cronAddCmd.Flags().StringVarP(&cronExpr, "cron", "c", "", "five-field cron expression")
	cronAddCmd.Flags().StringVar(&cronTZ, "tz", "", "IANA time zone for --cron")
	cronAddCmd.Flags().StringVar(&cronAt, "at", "", "run once at this time (RFC 3339 or 2006-01-02T15:04:05 local)")
	cronAddCmd.Flags().BoolVarP(&cronDeliver, "deliver", "d", false, "deliver the reply to --channel/--to")
	cronAddCmd.Flags().StringVar(&cronChannel, "channel", "", "channel to deliver to")
	cronAddCmd.Flags().StringVar(&cronTo, "to", "", "chat id to deliver to")
	cronAddCmd.Flags().BoolVar(&cronDeleteAfterRun, "delete-after-run", false, "delete an --at job once it has run")
	_ = cronAddCmd.MarkFlagRequired("name")
	_ = cronAddCmd.MarkFlagRequired("message")
	cronAddCmd.MarkFlagsMutuallyExclusive("every", "cron", "at")
	cronAddCmd.MarkFlagsOneRequired("every", "cron", "at")

	cronEnableCmd.Flags().BoolVar(&cronDisable, "disable", false, "disable instead of enable")
	cronRunCmd.Flags().BoolVarP(&cronForce, "force", "f", false, "run even if the job is disabled")

	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRemoveCmd)
	cronCmd.AddCommand(cronEnableCmd)
	cronCmd.AddCommand(cronRunCmd)
	rootCmd.AddCommand(cronCmd)
}

// agentHandler runs a job through a lazily created runtime and writes the reply to out.
type agentHandler struct {
	out io.Writer
	rt  *daemon.Runtime
}

func (h *agentHandler) handle(ctx context.Context, job cron.Job) error {
	if h.rt == nil {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		h.rt = rt
	}
	reply, err := h.rt.Loop.ProcessDirect(ctx, job.Payload.Message, cron.Target(job.Payload))
	if err != nil {
		return err
	}
	fmt.Fprintf(h.out, "🐈 %s\n", reply)
	return nil
}

func (h *agentHandler) close() {
	if h.rt != nil {
		h.rt.Close()
	}
}

func cronService(h *agentHandler) (*cron.Service, error) {
	return cron.NewService(cron.ServiceOptions{
		StorePath: appConfig.CronStorePath(),
		Handler:   h.handle,
	})
}

func runCronList(cmd *cobra.Command, _ []string) error {
	svc, err := cronService(&agentHandler{out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	jobs := svc.ListJobs(cronListAll)
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No scheduled jobs")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-20s %-32s %-9s %s\n", "ID", "NAME", "SCHEDULE", "STATUS", "NEXT RUN")
	for _, job := range jobs {
		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(out, "%-10s %-20s %-32s %-9s %s\n",
			job.ID, job.Name, cron.Describe(job.Schedule), status, formatMs(job.State.NextRunAtMs))
	}
	return nil
}

func runCronAdd(cmd *cobra.Command, _ []string) error {
	schedule, err := scheduleFromFlags()
	if err != nil {
		return err
	}

	svc, err := cronService(&agentHandler{out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	job, err := svc.AddJob(cron.AddParams{
		Name:     cronName,
		Schedule: schedule,
		Payload: cron.Payload{
			Message: cronMessage,
			Deliver: cronDeliver,
			Channel: cronChannel,
			To:      cronTo,
		},
		DeleteAfterRun: cronDeleteAfterRun,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Added job %q (%s)\n", job.Name, job.ID)
	return nil
}

func scheduleFromFlags() (cron.Schedule, error) {
	switch {
	case cronEvery > 0:
		return cron.Schedule{Kind: cron.ScheduleKindEvery, EveryMs: int64(cronEvery) * 1000}, nil
	case cronExpr != "":
		return cron.Schedule{Kind: cron.ScheduleKindCron, Expr: cronExpr, TZ: cronTZ}, nil
	case cronAt != "":
		at, err := parseAt(cronAt)
		if err != nil {
			return cron.Schedule{}, err
		}
		return cron.Schedule{Kind: cron.ScheduleKindAt, AtMs: at.UnixMilli()}, nil
	}
	return cron.Schedule{}, fmt.Errorf("%w: one of --every, --cron or --at is required", cron.ErrInvalidSchedule)
}

func parseAt(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid --at time %q", cron.ErrInvalidSchedule, value)
	}
	return t, nil
}

func runCronRemove(cmd *cobra.Command, args []string) error {
	svc, err := cronService(&agentHandler{out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	if err := svc.RemoveJob(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed job %s\n", args[0])
	return nil
}

func runCronEnable(cmd *cobra.Command, args []string) error {
	svc, err := cronService(&agentHandler{out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	job, err := svc.EnableJob(args[0], !cronDisable)
	if err != nil {
		return err
	}

	state := "enabled"
	if !job.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %q %s\n", job.Name, state)
	return nil
}

func runCronRun(cmd *cobra.Command, args []string) error {
	h := &agentHandler{out: cmd.OutOrStdout()}
	defer h.close()

	svc, err := cronService(h)
	if err != nil {
		return err
	}
	ran, err := svc.RunJob(cmd.Context(), args[0], cronForce)
	if err != nil {
		return err
	}
	if !ran {
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s is disabled (use --force to run it anyway)\n", args[0])
	}
	return nil
}

func formatMs(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return time.UnixMilli(*ms).Local().Format(time.DateTime)
}
