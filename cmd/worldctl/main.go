// Command worldctl observes and drives worldsim runs over the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/worldorder/internal/api"
	"github.com/talgya/worldorder/internal/archive"
	"github.com/talgya/worldorder/internal/client"
)

const usage = `usage: worldctl <command> [flags] [run-id]

commands:
  list                 list runs
  show <run>           run summary
  state <run>          full world state (JSON)
  events <run>         recent events (-limit N)
  report <run>         run report (-chronicle for prose)
  create -file F       create a run from a scenario file (-start to start it)
  start|pause|tick <run>
  delete <run>
  watch <run>          stream events until interrupted
  wait                 block until the API answers
  archive <run>        dump the local event archive (-dir D)

The API is WORLDSIM_API_URL (default http://localhost:8080); admin commands
use WORLDSIM_ADMIN_KEY.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(envOrDefault("WORLDSIM_API_URL", "http://localhost:8080"), os.Getenv("WORLDSIM_ADMIN_KEY"))
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "list":
		err = listCmd(ctx, c)
	case "show":
		err = showCmd(ctx, c, args)
	case "state":
		err = stateCmd(ctx, c, args)
	case "events":
		err = eventsCmd(ctx, c, args)
	case "report":
		err = reportCmd(ctx, c, args)
	case "create":
		err = createCmd(ctx, c, args)
	case "start", "pause", "tick", "delete":
		err = controlCmd(ctx, c, cmd, args)
	case "watch":
		err = watchCmd(ctx, c, args)
	case "wait":
		wctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		err = c.WaitReady(wctx)
	case "archive":
		err = archiveCmd(args)
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func listCmd(ctx context.Context, c *client.Client) error {
	runs, err := c.Runs(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tNAME\tSTATUS\tPHASE\tYEAR\tINDEX\tUPDATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Name, r.Status, r.Phase, r.Year, r.Metrics.StabilityIndex, humanize.Time(r.UpdatedAt))
	}
	return tw.Flush()
}

func showCmd(ctx context.Context, c *client.Client, args []string) error {
	runID, err := runArg("show", args)
	if err != nil {
		return err
	}
	r, err := c.Run(ctx, runID)
	if err != nil {
		return err
	}
	printSummary(r)
	return nil
}

func stateCmd(ctx context.Context, c *client.Client, args []string) error {
	runID, err := runArg("state", args)
	if err != nil {
		return err
	}
	s, err := c.State(ctx, runID)
	if err != nil {
		return err
	}
	return printJSON(s)
}

func eventsCmd(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of recent events")
	_ = fs.Parse(args)
	runID, err := runArg("events", fs.Args())
	if err != nil {
		return err
	}
	events, err := c.Events(ctx, runID, *limit)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Printf("year %-4d %-18s %s\n", e.Year, e.Type, e.Description)
	}
	return nil
}

func reportCmd(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	chronicle := fs.Bool("chronicle", false, "include the prose chronicle")
	asJSON := fs.Bool("json", false, "print the raw report")
	_ = fs.Parse(args)
	runID, err := runArg("report", fs.Args())
	if err != nil {
		return err
	}
	r, err := c.Report(ctx, runID, *chronicle)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(r)
	}
	fmt.Println(r.Summary())
	if r.Chronicle != "" {
		fmt.Println()
		fmt.Println(r.Chronicle)
	}
	return nil
}

func createCmd(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	file := fs.String("file", "", "scenario file (YAML or JSON)")
	start := fs.Bool("start", false, "start the run once created")
	_ = fs.Parse(args)
	if strings.TrimSpace(*file) == "" {
		return fmt.Errorf("missing -file")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	r, err := c.Create(ctx, data, *start)
	if err != nil {
		return err
	}
	printSummary(r)
	return nil
}

func controlCmd(ctx context.Context, c *client.Client, cmd string, args []string) error {
	runID, err := runArg(cmd, args)
	if err != nil {
		return err
	}
	switch cmd {
	case "start":
		r, err := c.Start(ctx, runID)
		if err == nil {
			printSummary(r)
		}
		return err
	case "pause":
		r, err := c.Pause(ctx, runID)
		if err == nil {
			printSummary(r)
		}
		return err
	case "tick":
		rep, err := c.Tick(ctx, runID)
		if err != nil {
			return err
		}
		if rep.Skipped {
			fmt.Println("tick skipped: run is not RUNNING")
			return nil
		}
		fmt.Printf("tick %d: %d events, stability index %d\n", rep.Tick, rep.Events, rep.Metrics.StabilityIndex)
		if rep.Terminated {
			fmt.Printf("run ended: %s\n", rep.Reason)
		}
		return nil
	}
	if err := c.Delete(ctx, runID); err != nil {
		return err
	}
	fmt.Println("deleted", runID)
	return nil
}

func watchCmd(ctx context.Context, c *client.Client, args []string) error {
	runID, err := runArg("watch", args)
	if err != nil {
		return err
	}
	return c.Watch(ctx, runID, func(m api.Message) {
		fmt.Printf("year %-4d %-18s %s\n", m.Event.Year, m.Event.Type, m.Event.Description)
	})
}

func archiveCmd(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dir := fs.String("dir", envOrDefault("WORLDSIM_ARCHIVE_DIR", "data/archive"), "archive directory")
	_ = fs.Parse(args)
	runID, err := runArg("archive", fs.Args())
	if err != nil {
		return err
	}
	recs, err := archive.Read(*dir, runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(r api.RunSummary) {
	fmt.Printf("%s  %s\n", r.RunID, r.Name)
	fmt.Printf("  status %s (%s), year %d, %d countries\n", r.Status, r.Phase, r.Year, r.Countries)
	fmt.Printf("  stability index %d, conflict %d, survival %d%%\n",
		r.Metrics.StabilityIndex, r.Metrics.ConflictLevel, r.Metrics.SurvivalRate)
	if r.Reason != "" {
		fmt.Printf("  ended: %s\n", r.Reason)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runArg(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s needs exactly one run id", cmd)
	}
	return args[0], nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
