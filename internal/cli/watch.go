package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"example.com/upkeep/internal/config"
	"example.com/upkeep/internal/events"
)

const defaultWatchGroup = "upkeep-watch"

func cmdWatch(ctx context.Context, out, errOut io.Writer, cfg config.Config, logger logrus.FieldLogger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	group := fs.String("group", defaultWatchGroup, "kafka consumer group")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("usage: upkeep watch [--group ID]")
	}
	if !cfg.PublishingEnabled() {
		return errors.New("watch needs KAFKA_BROKERS or kafka_brokers in the config file")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := events.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, *group)
	defer reader.Close()

	fprintln(errOut, "watching", cfg.KafkaTopic, "(ctrl-c to stop)")
	return events.NewWatcher(reader, printCompletion(out), logger).Run(ctx)
}

func printCompletion(out io.Writer) events.HandlerFunc {
	return func(_ context.Context, c events.Completion) error {
		verb := "completed"
		if c.Created {
			verb = "added"
		}
		_, err := fmt.Fprintf(out, "%s %s/%s at %s\n", verb, c.Section, c.Activity, c.CompletedAt)
		return err
	}
}
