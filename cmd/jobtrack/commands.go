package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"jobtrack/internal/app"
	"jobtrack/internal/config"
	"jobtrack/internal/job"
	"jobtrack/internal/storage"
	"jobtrack/pkg/logx"
)

const defaultConfigPath = "./jobtrack.yaml"

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Value: defaultConfigPath,
	Usage: "path to the config file (.yaml, .yml or .json)",
}

func newCLI(out io.Writer) *cli.App {
	a := cli.NewApp()
	a.Name = "jobtrack"
	a.HelpName = "jobtrack"
	a.Usage = "run scheduled jobs from a config file"
	a.UsageText = "jobtrack <command> [arguments...]"
	a.Version = version
	a.Writer = out
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the scheduler until SIGINT/SIGTERM",
			Flags:  []cli.Flag{configFlag},
			Action: runCmd,
		},
		{
			Name:  "check",
			Usage: "validate the config and print upcoming fire times",
			Flags: []cli.Flag{
				configFlag,
				cli.IntFlag{Name: "n", Value: 3, Usage: "fire times to print per job"},
			},
			Action: checkCmd,
		},
		{
			Name:  "history",
			Usage: "print recent run history from the configured store",
			Flags: []cli.Flag{
				configFlag,
				cli.IntFlag{Name: "n", Value: 20, Usage: "records to print"},
			},
			Action: historyCmd,
		},
		{
			Name:      "uniq-name",
			Usage:     "print a generated unique job name",
			ArgsUsage: "[group]",
			Action:    uniqNameCmd,
		},
		{
			Name:   "version",
			Usage:  "print version information",
			Action: versionCmd,
		},
	}
	return a
}

func execute(args []string) error {
	return newCLI(os.Stdout).Run(args)
}

func runCmd(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return stopErr
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func checkCmd(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	n := max(c.Int("n"), 1)
	now := time.Now().In(loc)

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "JOB\tSCHEDULE\tACTION\tNEXT\n")
	for _, j := range cfg.Jobs {
		times, err := app.Preview(j, loc, now, n)
		if err != nil {
			return fmt.Errorf("%s: %w", j.QualifiedName(), err)
		}
		next := "(retired)"
		if len(times) > 0 {
			next = times[0].Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.QualifiedName(), j.Schedule, j.Action.Kind, next)
		for i := 1; i < len(times); i++ {
			fmt.Fprintf(w, "\t\t\t%s\n", times[i].Format(time.RFC3339))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "config ok: %d jobs, timezone %s, scheduler enabled=%v\n",
		len(cfg.Jobs), loc, cfg.Scheduler.Enabled)
	return nil
}

func historyCmd(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	store, err := app.OpenHistory(cfg, logx.NewConsole("warn"))
	if errors.Is(err, storage.ErrDisabled) {
		return errors.New("no storage configured; set storage.driver to file or sqlite")
	}
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.Recent(context.Background(), max(c.Int("n"), 1))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(c.App.Writer, "jobtrack: no history yet")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "%s records, newest %s\n",
		humanize.Comma(int64(len(recs))), humanize.Time(recs[len(recs)-1].At))
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "AT\tAGE\tTYPE\tWORKER\tATTEMPTS\tDURATION\tERROR\n")
	for _, r := range recs {
		attempts, dur := "-", "-"
		if r.Attempts > 0 {
			attempts = fmt.Sprint(r.Attempts)
		}
		if r.Duration > 0 {
			dur = r.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.At.Local().Format(time.DateTime), humanize.Time(r.At), r.Type, r.Worker, attempts, dur, r.Error)
	}
	return w.Flush()
}

func uniqNameCmd(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, job.CreateUniqueName(c.Args().First()))
	return nil
}

func versionCmd(c *cli.Context) error {
	fmt.Fprintf(c.App.Writer, "jobtrack %s (%s/%s, %s, commit %s, built %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(), commit, date)
	return nil
}
