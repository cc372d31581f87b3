package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazardous-sun/ouroboros-fs/internal/chunkstore"
	"github.com/hazardous-sun/ouroboros-fs/internal/node"
	"github.com/hazardous-sun/ouroboros-fs/internal/oblog"
	"github.com/hazardous-sun/ouroboros-fs/internal/procid"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
	"github.com/hazardous-sun/ouroboros-fs/internal/server"
)

const defaultAddr = "127.0.0.1:9000"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a single ring node",
	Long: `Start one ring node: bind its listener, hold its ring state in memory, and
(if --wait-time is non-zero) begin pinging its successor on a timer.

A node has no membership of its own to join at startup — the ring is
wired by an external orchestrator (see "ouroboros set-network") issuing
NODE NEXT around a fleet of already-running nodes.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("addr", "", "Listen address (host:port); overrides --port")
	runCmd.Flags().Int("port", 0, "Listen port on 127.0.0.1; falls back to $PORT, then 9000")
	runCmd.Flags().Int64("wait-time", 0, "Gossip interval in milliseconds between successor health checks; 0 disables healing")
	runCmd.Flags().String("data-dir", "", "Root directory for this node's chunk storage; defaults to nodes/<port> under the working directory")
}

func resolveAddr(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		return addr
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		return fmt.Sprintf("127.0.0.1:%d", port)
	}
	if port := os.Getenv("PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return defaultAddr
}

func runRun(cmd *cobra.Command, args []string) error {
	addr := resolveAddr(cmd)
	waitMS, _ := cmd.Flags().GetInt64("wait-time")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	gossipInterval := time.Duration(waitMS) * time.Millisecond

	port, err := ring.PortOf(addr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	if dataDir == "" {
		dataDir = filepath.Join("nodes", port)
	}

	n, err := ring.New(addr, gossipInterval, dataDir)
	if err != nil {
		return fmt.Errorf("build node state: %w", err)
	}

	store, err := chunkstore.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open chunk store at %s: %w", dataDir, err)
	}

	handler := node.NewHandler(n, store)
	log := oblog.WithPort(n.SelfPort())
	log.Info().Str("addr", addr).Str("instance", procid.Instance).Int("pid", os.Getpid()).Dur("gossip_interval", gossipInterval).Msg("starting node")

	srv := server.New(addr, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := srv.Listen(ctx)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	handler.Detector.Start()
	defer handler.Detector.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		_ = ln.Close()
		return nil
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("listener stopped")
		}
		return err
	}
}

// waitForAccept polls addr until a TCP connection succeeds or the
// deadline passes, used by the orchestrator to know a just-spawned
// child's listener is ready for NODE NEXT wiring.
func waitForAccept(addr string, deadline time.Time, pollInterval time.Duration) bool {
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, pollInterval)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}
