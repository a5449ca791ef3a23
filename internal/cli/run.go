// Package cli implements the upkeep terminal client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"example.com/upkeep/internal/config"
	"example.com/upkeep/internal/domain"
	"example.com/upkeep/internal/persistence"
)

// Run is the main entry point. Returns exit code.
func Run(out, errOut io.Writer, args []string, env map[string]string) int {
	return runWithClock(out, errOut, args, env, time.Now)
}

type globalFlags struct {
	configPath string
	dataDir    string
	driver     string
	verbose    bool
	remaining  []string
}

func runWithClock(out, errOut io.Writer, args []string, env map[string]string, clock domain.Clock) int {
	flags, err := parseGlobalFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		printUsage(out)
		return 0
	}
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut)
		return 1
	}
	if len(flags.remaining) == 0 || flags.remaining[0] == "help" {
		printUsage(out)
		return 0
	}

	cfg, err := config.LoadWith(flags.configPath, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.driver != "" {
		cfg.StorageDriver = flags.driver
	}
	if err := cfg.Validate(); err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}
	loc, err := cfg.Location()
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}

	logger := logrus.New()
	logger.SetOutput(errOut)
	logger.SetLevel(logrus.ErrorLevel)
	if flags.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()
	cmd, cmdArgs := flags.remaining[0], flags.remaining[1:]
	if cmd == "watch" {
		if err := cmdWatch(ctx, out, errOut, cfg, logger, cmdArgs); err != nil && !errors.Is(err, context.Canceled) {
			fprintln(errOut, "error:", err)
			return 1
		}
		return 0
	}

	backend, err := persistence.Open(ctx, cfg, loc, logger)
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}
	defer backend.Close()

	service := domain.NewService(backend.Store, cfg.Sections,
		domain.WithLocker(backend.Locker),
		domain.WithLocation(loc),
		domain.WithClock(clock),
		domain.WithLogger(logger),
		domain.WithLockTimeout(cfg.LockTimeout),
	)

	switch cmd {
	case "status":
		err = cmdStatus(ctx, out, service, cmdArgs)
	case "complete":
		err = cmdComplete(ctx, out, service, cmdArgs)
	default:
		fprintln(errOut, "error: unknown command:", cmd)
		printUsage(errOut)
		return 1
	}
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags
	fs := flag.NewFlagSet("upkeep", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVarP(&flags.configPath, "config", "c", "", "HuJSON config file")
	fs.StringVar(&flags.dataDir, "data-dir", "", "csv section directory")
	fs.StringVar(&flags.driver, "storage", "", "storage driver: csv, postgres or aztables")
	fs.BoolVarP(&flags.verbose, "verbose", "v", false, "log storage activity to stderr")
	if err := fs.Parse(args); err != nil {
		return globalFlags{}, err
	}
	flags.remaining = fs.Args()
	return flags, nil
}

func cmdStatus(ctx context.Context, out io.Writer, service *domain.Service, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: upkeep status [SECTION]")
	}

	now := service.Now()
	var (
		views []domain.ActivityView
		err   error
	)
	if len(args) == 1 {
		views, err = service.Section(ctx, args[0], now)
	} else {
		views, err = service.All(ctx, now)
	}
	if err != nil {
		return err
	}

	if len(views) == 0 {
		fprintln(out, "no activities tracked")
		return nil
	}
	for _, v := range views {
		marker := ""
		if v.Due {
			marker = "DUE"
		}
		line := fmt.Sprintf("%-20s %-30s %13s %4d%% %s", v.Section, v.Name, v.Text(), int(v.Progress*100), marker)
		fprintln(out, strings.TrimRight(line, " "))
	}
	return nil
}

func cmdComplete(ctx context.Context, out io.Writer, service *domain.Service, args []string) error {
	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	at := fs.String("at", "", `completion time as "YYYY-MM-DD HH:MM:SS" (defaults to now)`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: upkeep complete SECTION ACTIVITY [--at TIME]")
	}

	input := domain.CompleteInput{Section: fs.Arg(0), Activity: fs.Arg(1)}
	if fs.Changed("at") {
		if res := domain.ParseRequestedTimestamp(*at, service.Now().Location()); !res.OK() {
			return res.Err
		}
		input.RequestedAt = at
	}

	result, err := service.Complete(ctx, input)
	if err != nil {
		return err
	}
	verb := "completed"
	if result.Created {
		verb = "added"
	}
	fprintln(out, fmt.Sprintf("%s %s/%s at %s", verb, input.Section, input.Activity, result.Timestamp()))
	return nil
}

func printUsage(w io.Writer) {
	fprintln(w, `Usage: upkeep [global flags] <command> [args]

Commands:
  status [SECTION]                    show how fresh each activity is
  complete SECTION ACTIVITY [--at T]  mark an activity done now or at T
  watch [--group ID]                  print completions published by the api

Global flags:
  -c, --config FILE    HuJSON config file (defaults to $UPKEEP_CONFIG)
      --data-dir DIR   csv section directory
      --storage NAME   storage driver: csv, postgres or aztables
  -v, --verbose        log storage activity to stderr`)
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
