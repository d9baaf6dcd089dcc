package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/cronman/internal/fleet"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "cronman",
		Short: "cronman manages a fleet of scheduled worker processes",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/cronman/cronman.toml", "path to the cronman config file")

	root.AddCommand(newSchedulerCmd(&configPath), newWorkerCmd(&configPath), newRemoteCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSchedulerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "scheduler", Short: "run or toggle the scheduler's single-tick loop"}

	var workers bool

	run := &cobra.Command{
		Use:   "run",
		Short: "run one scheduler tick and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			out, err := a.sched.Tick(cmd.Context(), time.Now())
			if err != nil {
				a.logger.Warn("tick skipped", "error", err)
				return nil
			}
			fmt.Print(out)
			return nil
		},
	}

	disable := &cobra.Command{
		Use:   "disable",
		Short: "disable the scheduler via its local lock file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			out, err := a.sched.Disable(workers)
			fmt.Print(out)
			return err
		},
	}
	disable.Flags().BoolVar(&workers, "workers", false, "also suspend (clean+kill) every running worker")

	enable := &cobra.Command{
		Use:   "enable",
		Short: "enable the scheduler by removing its local lock file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			out, err := a.sched.Enable(workers)
			fmt.Print(out)
			return err
		},
	}
	enable.Flags().BoolVar(&workers, "workers", false, "also resume jobs stalled by a prior disable")

	cmd.AddCommand(run, disable, enable)
	return cmd
}

func newWorkerCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "worker", Short: "run or inspect individual job-spec workers"}

	run := &cobra.Command{
		Use:   "run <job-spec>",
		Short: "run one job spec synchronously in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			out, err := a.runtime.Run(cmd.Context(), args[0])
			fmt.Println(out)
			return err
		},
	}

	sel := fleetSelectorFlags(cmd)

	status := &cobra.Command{
		Use:   "status",
		Short: "list tracked workers and their aliveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			items, totals, warnings := a.fleet.Status(sel())
			printFleetPIDItems(items, totals, warnings)
			return nil
		},
	}

	kill := &cobra.Command{
		Use:   "kill",
		Short: "TERM then KILL every selected worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			items, totals, warnings := a.fleet.Kill(sel())
			printFleetPIDItems(items, totals, warnings)
			return nil
		},
	}

	clean := &cobra.Command{
		Use:   "clean",
		Short: "remove PID files whose process is confirmed dead",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			items, totals, warnings := a.fleet.Clean(sel())
			printFleetPIDItems(items, totals, warnings)
			return nil
		},
	}

	suspend := &cobra.Command{
		Use:   "suspend",
		Short: "clean stalled JobSpec files then kill selected workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			_, _, _ = a.fleet.CleanJobSpecs(sel())
			items, totals, warnings := a.fleet.Kill(sel())
			printFleetPIDItems(items, totals, warnings)
			return nil
		},
	}

	resume := &cobra.Command{
		Use:   "resume",
		Short: "relaunch workers for every stalled JobSpec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			items, totals, warnings := a.fleet.Resume(sel())
			for _, it := range items {
				fmt.Printf("%-24s %-10s %s\n", it.Name, it.Status, it.JobSpec)
			}
			fmt.Printf("total: %d\n", totals["TOTAL"])
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			return nil
		},
	}

	info := &cobra.Command{
		Use:   "info [name]",
		Short: "print the registered job classes, or one class's detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			if len(args) == 1 {
				entry, ok := a.reg.Get(args[0])
				if !ok {
					return fmt.Errorf("no such job class %q", args[0])
				}
				printJobClassDetail(entry)
				return nil
			}
			for _, e := range a.reg.Summary() {
				fmt.Printf("%-24s %s\n", e.Name, e.Doc)
			}
			return nil
		},
	}

	cmd.AddCommand(run, status, kill, clean, suspend, resume, info)
	return cmd
}

func newRemoteCmd(configPath *string) *cobra.Command {
	var wait bool
	var host string

	cmd := &cobra.Command{
		Use:   "remote <enable|disable|kill> <job-spec-or-pid>",
		Short: "steer a remote scheduler host's enable/disable/kill state via the shared control plane",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()
			switch args[0] {
			case "enable":
				a.remote.Enable(ctx, host)
			case "disable":
				a.remote.Disable(ctx, host)
			case "kill":
				if len(args) != 2 {
					return fmt.Errorf("remote kill requires a job-spec-or-pid argument")
				}
				a.remote.RequestKill(ctx, host, args[1])
			default:
				return fmt.Errorf("unknown remote method %q (want enable, disable, or kill)", args[0])
			}
			if wait {
				time.Sleep(a.cfg.TickInterval)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "target host name (defaults to this host)")
	cmd.Flags().BoolVar(&wait, "wait", false, "sleep one tick interval so the remote effect can be observed")
	return cmd
}

func fleetSelectorFlags(cmd *cobra.Command) func() fleet.Selector {
	var jobSpec string
	var pid int
	cmd.PersistentFlags().StringVar(&jobSpec, "job-spec", "", "narrow to one job spec (NAME[:PARAMS])")
	cmd.PersistentFlags().IntVar(&pid, "pid", 0, "narrow to one PID")
	return func() fleet.Selector { return fleet.Selector{JobSpec: jobSpec, PID: pid} }
}

func printFleetPIDItems(items []fleet.PIDItem, totals fleet.Totals, warnings []error) {
	for _, it := range items {
		fmt.Printf("%-24s %-8s %d\n", it.Name, it.Status, it.PID)
	}
	fmt.Printf("total: %d\n", totals["TOTAL"])
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
}
