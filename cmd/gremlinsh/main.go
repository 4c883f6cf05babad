package main

import (
	"os"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/duckofyork/tinkerpop/cli"
	"github.com/duckofyork/tinkerpop/cmd/gremlinsh/commands"
	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/conf"
	"github.com/duckofyork/tinkerpop/driver"
	"github.com/duckofyork/tinkerpop/errors"
	log "github.com/duckofyork/tinkerpop/logger"
	"github.com/duckofyork/tinkerpop/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type arguments struct {
	Config          kong.ConfigFlag       `help:"Path to config file" type:"existingfile"`
	Client          conf.ClientConf       `help:"Client configuration" embed:"" prefix:""`
	Log             log.Config            `help:"Configuration for the logger" embed:"" prefix:"log-"`
	Shell           commands.ShellCommand `embed:""`
	Command         string                `help:"Single script to execute, non interactively"`
	MetricsBind     string                `help:"Address to serve driver metrics on, e.g. localhost:9102. Metrics are not served if not set"`
	DebugGoroutines bool                  `help:"Record the creation stack of every driver goroutine and log the ones still running on exit"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("%+v\n", err)
	}
}

func run(args []string) error {
	defer common.PanicHandler()
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if cfg.DebugGoroutines {
		common.SetGRDebug(true)
		// Runs after the client is stopped, so anything logged here has leaked
		defer common.DumpGRStacks()
	}
	var opts []driver.Option
	if cfg.MetricsBind != "" {
		registry := prometheus.NewRegistry()
		m, err := metrics.NewDriverMetrics(registry)
		if err != nil {
			return errors.WithStack(err)
		}
		metricsServer := metrics.NewServer(cfg.MetricsBind, registry, false)
		if err := metricsServer.Start(); err != nil {
			return errors.WithStack(err)
		}
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				log.Warnf("failed to stop metrics server %v", err)
			}
		}()
		opts = append(opts, driver.WithMetrics(m))
	}
	cl := cli.NewCli(cfg.Client, opts...)
	if err := cl.Start(); err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err := cl.Stop(); err != nil {
			log.Errorf("failed to close cli %+v", err)
		}
	}()
	if cfg.Command != "" {
		cl.SetExitOnError(true)
		return cfg.Shell.SendStatement(cfg.Command, cl)
	}
	return cfg.Shell.Run(cl)
}

func loadConfig(args []string) (*arguments, error) {
	cfg := &arguments{}
	parser, err := kong.New(cfg, kong.Configuration(konghcl.Loader))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return nil, errors.WithStack(err)
	}
	return cfg, nil
}
