// Package main is the rtap command-line interface: a local demo of the
// sensor pipeline, a configurable simulation, report generation from S3 and
// a health check.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gurre/rtap/aws"
	"github.com/gurre/rtap/config"
	"github.com/gurre/rtap/fake"
	"github.com/gurre/rtap/logging"
	"go.uber.org/zap"
)

const usage = `Usage: rtap <command> [flags]

Commands:
  demo       Run the pipeline against in-memory AWS fakes
  simulate   Run the pipeline against the configured backend
  report     Build a markdown report from an ND-JSON object in S3
  health     Print dependency health
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code, err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// env carries what every command needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
}

// run dispatches to a command and returns the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer) (int, error) {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stdout, usage)
		if len(args) == 0 {
			return 1, nil
		}
		return 0, nil
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return 1, err
	}
	logger, err := logging.New(cfg.LogFormat)
	if err != nil {
		return 1, err
	}
	defer func() { _ = logger.Sync() }()

	command, rest := args[0], args[1:]
	logger.Info("CLI command", zap.String("command", command))
	e := &env{cfg: cfg, logger: logger, stdout: stdout}

	switch command {
	case "demo":
		return e.demo(ctx, rest)
	case "simulate":
		return 0, e.simulate(ctx, rest)
	case "report":
		return 0, e.report(ctx, rest)
	case "health":
		return 0, e.health(ctx, rest)
	default:
		fmt.Fprint(stdout, usage)
		return 1, fmt.Errorf("unknown command: %s", command)
	}
}

// newFactory builds fake or SDK clients depending on the config. Tests
// replace it to share one fake backend across commands.
var newFactory = func(ctx context.Context, cfg *config.Config) (*aws.Factory, error) {
	if cfg.UseFakeAWS {
		f, _ := fake.NewFactory(cfg.CacheClients)
		return f, nil
	}
	return aws.NewSDKFactory(ctx, cfg.Region, cfg.CacheClients)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	if v == "" {
		return errors.New("value must not be empty")
	}
	*s = append(*s, v)
	return nil
}
