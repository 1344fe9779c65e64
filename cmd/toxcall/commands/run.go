package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/toxcall"
	"github.com/opd-ai/toxcall/config"
	"github.com/opd-ai/toxcall/telemetry"
)

var runFlags struct {
	listen     string
	httpAddr   string
	input      string
	output     string
	peers      string
	logLevel   string
	autoAnswer bool
	call       []uint
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a call node",
	Long: `Start a call node and serve until interrupted.

Examples:
  toxcall run --peers 1=10.0.0.2:33445=<hexkey>
  toxcall run --input tone:440 --output null --call 1
  toxcall run --input wav:greeting.wav --http ""`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		return runNode(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.listen, "listen", config.DefaultListenAddr, "UDP listen address")
	f.StringVar(&runFlags.httpAddr, "http", config.DefaultHTTPAddr, "control API address (empty disables)")
	f.StringVar(&runFlags.input, "input", config.DefaultDevice, "input device: default, wav:<path>, wavloop:<path>, tone:<hz>")
	f.StringVar(&runFlags.output, "output", config.DefaultDevice, "output device: default, raw:<path>, null")
	f.StringVar(&runFlags.peers, "peers", "", "friends as number=host:port=hexkey, comma separated")
	f.StringVar(&runFlags.logLevel, "log-level", config.DefaultLogLevel, "log level")
	f.BoolVar(&runFlags.autoAnswer, "auto-answer", true, "answer incoming calls immediately")
	f.UintSliceVar(&runFlags.call, "call", nil, "friend numbers to call at startup")
}

// loadRunConfig layers explicitly set flags over the environment.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = runFlags.listen
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = runFlags.httpAddr
	}
	if flags.Changed("input") {
		cfg.Input = runFlags.input
	}
	if flags.Changed("output") {
		cfg.Output = runFlags.output
	}
	if flags.Changed("peers") {
		cfg.Peers = runFlags.peers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = runFlags.logLevel
	}
	if flags.Changed("auto-answer") {
		cfg.AutoAnswer = runFlags.autoAnswer
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runNode(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.TelemetryEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runNode",
				"error":    err.Error(),
			}).Warn("Tracer shutdown failed")
		}
	}()

	node, err := toxcall.New(cfg)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		_ = node.Close()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "runNode",
		"public_key": fmt.Sprintf("%x", node.PublicKey()),
		"udp":        node.LocalAddr().String(),
	}).Info("toxcall running")

	for _, peer := range runFlags.call {
		if err := node.Manager().PlaceCall(uint32(peer)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runNode",
				"peer_id":  peer,
				"error":    err.Error(),
			}).Warn("Startup call failed")
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		logrus.WithFields(logrus.Fields{
			"function": "runNode",
			"signal":   sig.String(),
		}).Info("Shutting down")
	case <-ctx.Done():
	}

	return node.Close()
}
