// fattree builds k-ary fat-tree data-center topologies and runs a
// MAC-learning controller over an emulated instance of one.
//
//	fattree build --k 4 --output topo.yaml
//	fattree run --k 4 --api-addr :8080
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glennswest/fattree/pkg/config"
	"github.com/glennswest/fattree/pkg/controller"
	"github.com/glennswest/fattree/pkg/emulation"
	"github.com/glennswest/fattree/pkg/fabric"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	cmd := &cobra.Command{
		Use:           "fattree",
		Short:         "Fat-tree topology generator and learning-switch controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&rf.configPath, "config", "", "config file (default $"+config.EnvPath+")")
	cmd.PersistentFlags().BoolVar(&rf.debug, "debug", false, "development logging")

	cmd.AddCommand(newBuildCmd(&rf), newRunCmd(&rf), newVersionCmd())
	return cmd
}

func (rf *rootFlags) logger() (*zap.SugaredLogger, func(), error) {
	var (
		logger *zap.Logger
		err    error
	)
	if rf.debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger.Sugar(), func() { _ = logger.Sync() }, nil
}

// topologyFlags are shared by build and run and override the config file.
type topologyFlags struct {
	k         int
	maxK      int
	bandwidth int
	delay     time.Duration
}

func (tf *topologyFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&tf.k, "k", 4, "switch port count, even and at least 2")
	fs.IntVar(&tf.maxK, "max-k", fabric.DefaultMaxK, "largest accepted k")
	fs.IntVar(&tf.bandwidth, "bw", fabric.DefaultBandwidth, "link bandwidth in Mbps")
	fs.DurationVar(&tf.delay, "delay", fabric.DefaultDelay, "link propagation delay")
}

func (tf *topologyFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("k") {
		cfg.K = tf.k
	}
	if fs.Changed("max-k") {
		cfg.MaxK = tf.maxK
	}
	if fs.Changed("bw") {
		cfg.Bandwidth = tf.bandwidth
	}
	if fs.Changed("delay") {
		cfg.Delay = config.Duration(tf.delay)
	}
}

func loadConfig(rf *rootFlags, fs *pflag.FlagSet, tf *topologyFlags) (config.Config, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return config.Config{}, err
	}
	tf.apply(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// ─── build ──────────────────────────────────────────────────────────────────

func newBuildCmd(rf *rootFlags) *cobra.Command {
	var (
		tf     topologyFlags
		output string
		format string
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a fat-tree and print its connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, sync, err := rf.logger()
			if err != nil {
				return err
			}
			defer sync()

			cfg, err := loadConfig(rf, cmd.Flags(), &tf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("format") {
				cfg.Format = format
			}

			topo, err := fabric.Build(cfg.K, cfg.BuildOpts())
			if err != nil {
				return err
			}
			sum := fabric.Summarize(topo)
			log.Infow("topology built",
				"k", sum.K, "pods", sum.Pods, "core", sum.Core, "aggregation", sum.Aggregation,
				"edge", sum.Edge, "hosts", sum.Hosts, "links", sum.Links)

			if output != "" {
				if err := writeDescription(output, fabric.Format(cfg.Format), cmd.Flags().Changed("format"), topo); err != nil {
					return err
				}
				log.Infow("description written", "path", output)
			}
			if quiet {
				return nil
			}
			return fabric.DumpConnections(cmd.OutOrStdout(), topo)
		},
	}
	tf.register(cmd.Flags())
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the topology description to this file")
	cmd.Flags().StringVar(&format, "format", "", "description format, yaml or json (default from file extension)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the connection listing")
	return cmd
}

func writeDescription(path string, format fabric.Format, explicit bool, topo *fabric.Topology) error {
	if !explicit {
		return fabric.WriteFile(path, topo)
	}
	raw, err := fabric.Marshal(topo, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ─── run ────────────────────────────────────────────────────────────────────

func newRunCmd(rf *rootFlags) *cobra.Command {
	var (
		tf       topologyFlags
		topoPath string
		apiAddr  string
		noSTP    bool
		pingAll  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller over an emulated fat-tree and serve its API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, sync, err := rf.logger()
			if err != nil {
				return err
			}
			defer sync()

			cfg, err := loadConfig(rf, cmd.Flags(), &tf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api-addr") {
				cfg.APIAddr = apiAddr
			}
			if noSTP {
				off := false
				cfg.STP = &off
			}

			var topo *fabric.Topology
			if topoPath != "" {
				topo, err = fabric.ReadFile(topoPath)
			} else {
				topo, err = fabric.Build(cfg.K, cfg.BuildOpts())
			}
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, topo, pingAll, log)
		},
	}
	tf.register(cmd.Flags())
	cmd.Flags().StringVar(&topoPath, "topology", "", "load a topology description instead of building one")
	cmd.Flags().StringVar(&apiAddr, "api-addr", ":8080", "introspection API listen address")
	cmd.Flags().BoolVar(&noSTP, "no-stp", false, "leave redundant links forwarding")
	cmd.Flags().BoolVar(&pingAll, "ping-all", true, "ping between every pair of hosts after connecting")
	return cmd
}

func run(ctx context.Context, cfg config.Config, topo *fabric.Topology, pingAll bool, log *zap.SugaredLogger) error {
	log.Infow("starting fattree", "version", version, "k", topo.K,
		"switches", len(topo.Switches), "hosts", len(topo.Hosts))

	net := emulation.New(topo, cfg.EmulationOpts(), log)
	ctrl := controller.New(net, cfg.ControllerOpts(), log)
	defer ctrl.Close()

	if err := net.Connect(ctx, ctrl); err != nil {
		if ctx.Err() != nil {
			log.Info("interrupted while connecting switches")
			return nil
		}
		return err
	}
	if pingAll {
		rep, err := net.PingAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infow("interrupted during ping all", "pairs", rep.Pairs)
				return nil
			}
			return fmt.Errorf("ping all: %w", err)
		}
		if len(rep.Failed) > 0 {
			log.Warnw("unreachable host pairs", "count", len(rep.Failed), "first", rep.Failed[0])
		}
	}

	mux := http.NewServeMux()
	ctrl.RegisterRoutes(mux, topo)
	srv := &http.Server{Addr: cfg.APIAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("API listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// Switch-side flow statistics and expiry, reported to the controller
		// as FlowStats and FlowRemoved.
		ticker := time.NewTicker(time.Duration(cfg.TickInterval))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := net.ReportStats(ctx); err != nil && ctx.Err() == nil {
					log.Warnw("flow stats report failed", "error", err)
				}
				if n, err := net.Expire(ctx); err != nil && ctx.Err() == nil {
					log.Warnw("flow expiry failed", "error", err)
				} else if n > 0 {
					log.Debugw("switch flows expired", "count", n)
				}
			}
		}
	})

	err := g.Wait()
	log.Info("shutting down")
	return err
}

// ─── version ────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "fattree", version)
		},
	}
}
