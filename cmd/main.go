package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/haolipeng/ibgp2d/pkg/config"
	"github.com/haolipeng/ibgp2d/pkg/diffusion"
)

type rootOptions struct {
	configFile string
	routerID   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "ibgp2d",
		Short:        "Restrict iBGP next-hop diffusion using the OSPF topology",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "config.yaml", "config file")
	root.PersistentFlags().StringVar(&opts.routerID, "router-id", "", "local router id, overrides router.router_id")

	root.AddCommand(
		newRunCommand(opts),
		newReplayCommand(opts),
		newValidatePolicyCommand(),
	)
	return root
}

// loadConfig 读取配置并应用命令行覆盖
// replay时允许没有配置文件
func (o *rootOptions) loadConfig(cmd *cobra.Command, optional bool) (*config.Config, error) {
	cfg, err := config.ReadConfig(o.configFile)
	if err != nil {
		if !optional || cmd.Flags().Changed("config") || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	if o.routerID != "" {
		cfg.Router.RouterID = o.routerID
	}
	return cfg, nil
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen to OSPF flooding and keep the iBGP filters up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := InitLogger(cfg); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			logrus.Info("Starting ibgp2d...")
			d, err := newDaemon(cfg, true)
			if err != nil {
				return err
			}

			// 创建context用于控制生命周期
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := d.start(ctx); err != nil {
				d.stop()
				return err
			}

			// 等待中断信号
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			select {
			case sig := <-sigChan:
				logrus.Infof("Received signal %v, shutting down...", sig)
			case <-d.pipeline.Done():
				logrus.Warn("Pipeline finished, shutting down...")
			}

			// 优雅退出
			cancel()
			d.stop()
			logrus.Info("Shutdown complete")
			return nil
		},
	}
}

type replayOptions struct {
	graphFile    string
	drawNetworks bool
	serveAPI     bool
}

func newReplayCommand(opts *rootOptions) *cobra.Command {
	ropts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <pcap>",
		Short: "Replay captured OSPF traffic and print the resulting filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd, true)
			if err != nil {
				return err
			}
			cfg.Source.Type = "file"
			cfg.Source.Filename = args[0]
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := InitLogger(cfg); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			d, err := newDaemon(cfg, ropts.serveAPI)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := d.start(ctx); err != nil {
				d.stop()
				return err
			}

			// 数据源读完，sink处理完所有批次
			<-d.pipeline.Done()
			d.stop()

			if ropts.graphFile != "" {
				if err := writeGraph(d, ropts.graphFile, ropts.drawNetworks); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d.ctrl.Filters().Snapshot())
		},
	}
	cmd.Flags().StringVar(&ropts.graphFile, "graph", "", "write the final IGP graph in Graphviz format to this file")
	cmd.Flags().BoolVar(&ropts.drawNetworks, "networks", false, "draw networks as nodes in the Graphviz output")
	cmd.Flags().BoolVar(&ropts.serveAPI, "api", false, "serve the status API while replaying")
	return cmd
}

func writeGraph(d *daemon, filename string, drawNetworks bool) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	defer f.Close()

	if err := d.ctrl.WriteGraphviz(f, drawNetworks); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	return f.Close()
}

func newValidatePolicyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-policy <expression>",
		Short: "Check that an export policy expression compiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := diffusion.ValidateExpression(args[0]); err != nil {
				return fmt.Errorf("invalid policy: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "policy is valid")
			return nil
		},
	}
}
