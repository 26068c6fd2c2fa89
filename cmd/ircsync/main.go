package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"git.sr.ht/~delthas/ircsync"
	"git.sr.ht/~delthas/ircsync/events"
	"git.sr.ht/~delthas/ircsync/irc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ircsync",
		Short:         "Track the state of IRC channels",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// glog reads its flags from flag.CommandLine
			flag.CommandLine.Parse(nil)
		},
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.AddCommand(newRunCmd(), newParseCmd(), newVersionCmd())
	return root
}

func defaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return path.Join(configDir, "ircsync", "ircsync.scfg"), nil
}

func newRunCmd() *cobra.Command {
	var configPath string
	var debug bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the configured server and track its channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				p, err := defaultConfigPath()
				if err != nil {
					return err
				}
				configPath = p
			}
			cfg, err := ircsync.LoadConfigFile(configPath)
			if err != nil {
				return fmt.Errorf("failed to load the configuration file at %q: %w", configPath, err)
			}
			cfg.Debug = cfg.Debug || debug

			app, err := ircsync.NewApp(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go dumpOnSignal(ctx, app, cmd.OutOrStdout())

			err = app.Run(ctx)
			glog.Flush()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "log raw protocol data")
	return cmd
}

// dumpOnSignal writes a snapshot of the tracked state on SIGUSR1.
func dumpOnSignal(ctx context.Context, app *ircsync.App, w io.Writer) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	for {
		select {
		case <-sigs:
			snapshot, err := app.Snapshot(ctx)
			if err != nil {
				glog.Warningf("[snapshot] %v", err)
				continue
			}
			enc := yaml.NewEncoder(w)
			if err := enc.Encode(snapshot); err != nil {
				glog.Warningf("[snapshot] %v", err)
			}
			enc.Close()
		case <-ctx.Done():
			return
		}
	}
}

type parsedLine struct {
	Message irc.Message   `yaml:"message"`
	Events  []events.Kind `yaml:"events,omitempty"`
	Error   string        `yaml:"error,omitempty"`
}

func newParseCmd() *cobra.Command {
	var withEvents bool
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse IRC lines read from standard input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				var out parsedLine
				msg, err := irc.ParseMessage(sc.Text())
				if err != nil {
					out.Error = err.Error()
				} else {
					out.Message = msg
					if withEvents {
						evs, err := events.FromMessage(msg)
						if err != nil {
							out.Error = err.Error()
						}
						for _, ev := range evs {
							out.Events = append(out.Events, ev.Kind)
						}
					}
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "also list the events each line emits")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if v, ok := ircsync.BuildVersion(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "ircsync version %v\n", v)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "ircsync (unknown version)")
			}
		},
	}
}
