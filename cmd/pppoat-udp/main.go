// Package main provides the CLI entry point for the pppoat-udp transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/pppoat-udp/internal/config"
	"github.com/postalsys/pppoat-udp/internal/health"
	"github.com/postalsys/pppoat-udp/internal/logging"
	"github.com/postalsys/pppoat-udp/internal/metrics"
	"github.com/postalsys/pppoat-udp/internal/recovery"
	"github.com/postalsys/pppoat-udp/internal/resolve"
	"github.com/postalsys/pppoat-udp/internal/udp"
	"github.com/postalsys/pppoat-udp/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pppoat-udp",
		Short: "pppoat-udp - PPP over UDP transport",
		Long: `pppoat-udp carries a PPP link over UDP between two fixed peers.

Bytes read from the link (stdin by default) are sent as datagrams to the
peer, and datagrams received from the peer are written back to the link
(stdout by default). One side runs as the initiator (server: true), the
other as the responder.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(endpointsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration interactively",
		Long:  "Run the setup wizard and write a YAML configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := wizard.New().Run(); err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}
			return nil
		},
	}
}

// overrides are command-line values applied on top of the config file.
type overrides struct {
	server    bool
	serverSet bool
	logLevel  string
}

// loadConfig reads path, or starts from defaults when path is empty, and
// applies the overrides.
func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if o.serverSet {
		cfg.UDP.Server = config.Flag(strconv.FormatBool(o.server))
	}
	if o.logLevel != "" {
		cfg.Node.LogLevel = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func addConfigFlags(cmd *cobra.Command, configPath *string, o *overrides) {
	cmd.Flags().StringVarP(configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	cmd.Flags().BoolVar(&o.server, "server", false, "Run as the initiator (overrides udp.server)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		o.serverSet = cmd.Flags().Changed("server")
	}
}

func runCmd() *cobra.Command {
	var (
		configPath  string
		o           overrides
		metricsAddr string
		linkReadFD  int
		linkWriteFD int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the transport",
		Long: `Start forwarding between the link descriptors and the peer.

The link defaults to stdin and stdout, so the command can be used as a pppd
pty helper. All diagnostics go to stderr. SIGINT and SIGTERM stop the
transport gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, o)
			if err != nil {
				return err
			}
			return run(cfg, metricsAddr, linkReadFD, linkWriteFD)
		},
	}

	addConfigFlags(cmd, &configPath, &o)
	cmd.Flags().StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides node.log_level)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve health and metrics on this address (enables the health server)")
	cmd.Flags().IntVar(&linkReadFD, "link-read-fd", 0, "Descriptor the link is read from")
	cmd.Flags().IntVar(&linkWriteFD, "link-write-fd", 1, "Descriptor the link is written to")

	return cmd
}

func run(cfg *config.Config, metricsAddr string, rd, wr int) error {
	logger := logging.NewLogger(cfg.Node.LogLevel, cfg.Node.LogFormat)

	// Health server first, so a failing transport is visible as not ready.
	var hs *health.Server
	if cfg.Health.Enabled || metricsAddr != "" {
		hcfg := health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
		}
		if metricsAddr != "" {
			hcfg.Address = metricsAddr
		}
		hs = health.NewServer(hcfg, nil)
		if err := hs.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer hs.Stop()
		logger.Info("health server listening", "address", hs.Address().String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := cfg.UDPSettings()
	settings.Logger = logger
	settings.Metrics = metrics.Default()

	tr, err := udp.New(ctx, cfg, settings)
	if err != nil {
		return fmt.Errorf("failed to create transport (code %d): %w", udp.Code(err), err)
	}
	defer tr.Close()

	if hs != nil {
		hs.SetProvider(tr)
	}

	if term.IsTerminal(rd) {
		state, err := term.MakeRaw(rd)
		if err != nil {
			return fmt.Errorf("failed to set raw mode on link: %w", err)
		}
		defer term.Restore(rd, state)
	}

	ctrlR, ctrlW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create control pipe: %w", err)
	}
	defer ctrlR.Close()
	defer ctrlW.Close()

	finished := make(chan struct{})
	go func() {
		defer recovery.RecoverWithLog(logger, "signals")
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			signalControl(logger, ctrlW)
		case <-finished:
		}
	}()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- forward(logger, tr, rd, wr, int(ctrlR.Fd()))
	}()
	err = <-done
	close(finished)

	printSummary(os.Stderr, tr.Stats(), time.Since(start))

	switch {
	case err == nil:
		logger.Info("transport stopped")
		return nil
	case errors.Is(err, udp.ErrBrokenPipe):
		logger.Info("link closed", logging.KeyError, err)
		return nil
	default:
		return fmt.Errorf("transport failed (code %d): %w", udp.Code(err), err)
	}
}

// signalControl asks the loop to stop by writing to its control descriptor.
func signalControl(logger *slog.Logger, w io.Writer) {
	if _, err := w.Write([]byte{0}); err != nil {
		logger.Warn("failed to signal transport shutdown", logging.KeyError, err)
	}
}

// forward runs the loop, turning a panic into an error.
func forward(logger *slog.Logger, tr *udp.Transport, rd, wr, ctrl int) (err error) {
	defer recovery.Recover(logger, "forward", &err)
	return tr.Run(rd, wr, ctrl)
}

func printSummary(w io.Writer, s udp.Stats, elapsed time.Duration) {
	fmt.Fprintf(w, "%s %s -> %s, up %s\n", s.Role, s.LocalAddr, s.RemoteAddr, elapsed.Round(time.Second))
	fmt.Fprintf(w, "  sent:     %s datagrams, %s\n", humanize.Comma(int64(s.DatagramsSent)), humanize.Bytes(s.BytesSent))
	fmt.Fprintf(w, "  received: %s datagrams, %s\n", humanize.Comma(int64(s.DatagramsReceived)), humanize.Bytes(s.BytesReceived))
	if s.DatagramsDropped > 0 || s.SendRetries > 0 {
		fmt.Fprintf(w, "  dropped:  %s datagrams, %s send retries\n", humanize.Comma(int64(s.DatagramsDropped)), humanize.Comma(int64(s.SendRetries)))
	}
}

func endpointsCmd() *cobra.Command {
	var (
		configPath string
		o          overrides
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Show the role and endpoints a configuration selects",
		Long:  "Resolve the peer address for the selected role without opening a socket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, o)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return printEndpoints(ctx, cmd.OutOrStdout(), cfg, resolve.New())
		},
	}

	addConfigFlags(cmd, &configPath, &o)
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Name resolution timeout")

	return cmd
}

func printEndpoints(ctx context.Context, w io.Writer, cfg *config.Config, r *resolve.Resolver) error {
	role := cfg.Role()
	ep := cfg.UDPSettings().Endpoints(role)

	fmt.Fprintf(w, "Role:        %s\n", role)
	fmt.Fprintf(w, "Local port:  %d\n", ep.LocalPort)
	fmt.Fprintf(w, "Peer:        %s\n", net.JoinHostPort(ep.RemoteHost, strconv.Itoa(int(ep.RemotePort))))

	res, err := r.Resolve(ctx, ep.RemoteHost, ep.RemotePort)
	if err != nil {
		return fmt.Errorf("failed to resolve peer: %w", err)
	}
	defer res.Release()

	for i, addr := range res.Addrs() {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", marker, addr, resolve.FamilyOf(addr.Addr()))
	}
	return nil
}
