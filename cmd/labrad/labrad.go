// Program labrad is a command-line utility for LabRAD type tags, managers,
// and servers.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/labrad/client"
	"github.com/creachadair/labrad/config"
	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/internal/logging"
	"github.com/creachadair/labrad/types"
	"github.com/rs/zerolog"
)

var flags struct {
	Config   string `flag:"config,Path of a TOML configuration file"`
	Host     string `flag:"host,Manager host (overrides config)"`
	Port     int    `flag:"port,Manager port (overrides config)"`
	Name     string `flag:"name,Login name (overrides config)"`
	LogLevel string `flag:"log-level,Log level (overrides config)"`
	JSONLog  bool   `flag:"json-log,Write logs as JSON lines"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Usage: `<command> [arguments]
help [<command>]`,
		Help: `Utilities for LabRAD type tags, managers, and servers.

Connection settings are read from the file named by --config, then from the
environment (LABRADHOST, LABRADPORT, LABRADPASSWORD, LABRADNAME), then from
the flags.`,
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name:  "type",
				Usage: "<tag>...",
				Help: `Parse type tags and describe them.

For each tag, print its canonical form, its in-memory width in bytes, and
whether it is fixed-width on the wire.`,
				Run: func(env *command.Env) error {
					if len(env.Args) == 0 {
						return env.Usagef("Missing type tag")
					}
					return describeTypes(os.Stdout, env.Args)
				},
			},
			{
				Name:  "unflatten",
				Usage: "<tag> <hex-data>",
				Help:  "Decode hex-encoded wire data of the given type and print the value.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 2 {
						return env.Usagef("Wrong number of arguments")
					}
					s, err := unflatten(env.Args[0], env.Args[1])
					if err != nil {
						return err
					}
					fmt.Println(s)
					return nil
				},
			},
			{
				Name: "ping",
				Help: "Log in to the manager and measure the round-trip time of an empty request.",
				Run: withClient(func(ctx context.Context, cli *client.Client, env *command.Env) error {
					rtt, err := cli.Ping(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("connection %d: %v\n", cli.ID(), rtt)
					return nil
				}),
			},
			{
				Name: "servers",
				Help: "List the servers known to the manager.",
				Run: withClient(func(ctx context.Context, cli *client.Client, env *command.Env) error {
					servers, err := cli.Servers(ctx)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)
					for _, s := range servers {
						fmt.Fprintf(tw, "%d\t%s\n", s.ID, s.Name)
					}
					return tw.Flush()
				}),
			},
			{
				Name:  "settings",
				Usage: "<server>",
				Help:  "List the settings of a server.",
				Run: withClient(func(ctx context.Context, cli *client.Client, env *command.Env) error {
					if len(env.Args) != 1 {
						return env.Usagef("Missing server name")
					}
					settings, err := cli.Settings(ctx, env.Args[0])
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)
					for _, s := range settings {
						fmt.Fprintf(tw, "%d\t%s\n", s.ID, s.Name)
					}
					return tw.Flush()
				}),
			},
			{
				Name: "manager",
				Help: `Run a manager.

The manager listens on the address given by the "listen" key of the [manager]
section of the config file. If the "metrics" key is set, Prometheus metrics
are served over HTTP at that address under /metrics.`,
				Run: runManager,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return config.Config{}, err
	}
	if flags.Host != "" {
		cfg.Host = flags.Host
	}
	if flags.Port != 0 {
		cfg.Port = flags.Port
	}
	if flags.Name != "" {
		cfg.Name = flags.Name
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (zerolog.Logger, error) {
	return logging.New("labrad", logging.Options{Level: cfg.LogLevel, JSON: flags.JSONLog})
}

// signalContext returns a context that ends on interrupt or termination.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withClient adapts f into a command that runs with a logged-in client.
func withClient(f func(context.Context, *client.Client, *command.Env) error) func(*command.Env) error {
	return func(env *command.Env) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		cli, err := client.Connect(ctx, cfg, &client.Options{Logger: &log})
		if err != nil {
			return err
		}
		defer cli.Close()
		return f(ctx, cli, env)
	}
}

func describeTypes(w io.Writer, tags []string) error {
	tw := tabwriter.NewWriter(w, 4, 8, 1, ' ', 0)
	var errs []error
	for _, tag := range tags {
		t, err := types.Parse(tag)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fixed := "variable"
		if t.Fixed() {
			fixed = "fixed"
		}
		fmt.Fprintf(tw, "%s\t%v\twidth %d\t%s\n", t, t.Kind(), t.Width(), fixed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func unflatten(tag, hexData string) (string, error) {
	buf, err := hex.DecodeString(strings.Join(strings.Fields(hexData), ""))
	if err != nil {
		return "", fmt.Errorf("invalid hex data: %w", err)
	}
	d, err := data.UnflattenTag(buf, tag)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}
