package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazardous-sun/ouroboros-fs/internal/oblog"
)

var setNetworkCmd = &cobra.Command{
	Use:   "set-network",
	Short: "Spawn a fleet of nodes and wire them into a ring",
	Long: `set-network is the orchestrator: it spawns N node processes, waits for each
to accept connections, then issues NODE NEXT around the fleet so they form
a single directional cycle, and finally triggers a NETMAP DISCOVER and a
TOPOLOGY WALK from the first node so every node starts with a consistent
view of the ring it just joined.

It is only an ordinary client of the ring protocol: it holds no ring
state of its own once wiring completes.`,
	RunE: runSetNetwork,
}

func init() {
	setNetworkCmd.Flags().IntP("count", "n", 3, "Number of nodes to spawn")
	setNetworkCmd.Flags().IntP("base-port", "p", 9000, "First node's port; subsequent nodes use base-port+1, base-port+2, ...")
	setNetworkCmd.Flags().String("host", "127.0.0.1", "Host every spawned node binds to")
	setNetworkCmd.Flags().Bool("no-block", false, "Exit immediately after wiring instead of waiting for SIGINT/\"quit\"")
	setNetworkCmd.Flags().Int64("wait-ms", 5000, "Deadline in milliseconds, shared by all spawned nodes and counted from the last spawn, for every node's listener to accept")
	setNetworkCmd.Flags().Int64("wait-time", 0, "Gossip interval in milliseconds passed through to every spawned node")
	setNetworkCmd.Flags().Bool("overwrite-nodes-dir", false, "Remove each node's nodes/<port> data directory before spawning it")
	setNetworkCmd.Flags().String("topology-file", "", "YAML file listing node addresses, in place of -n/-p/--host")
	setNetworkCmd.Flags().Int("dns-port", 0, "Unused; accepted for compatibility with superseded flag sets")
	setNetworkCmd.Flags().Int64("dns-poll", 0, "Unused; accepted for compatibility with superseded flag sets")
}

func runSetNetwork(cmd *cobra.Command, args []string) error {
	log := oblog.WithComponent("set-network")

	if dnsPort, _ := cmd.Flags().GetInt("dns-port"); dnsPort != 0 {
		log.Info().Msg("--dns-port has no referent in this ring and is ignored")
	}
	if dnsPoll, _ := cmd.Flags().GetInt64("dns-poll"); dnsPoll != 0 {
		log.Info().Msg("--dns-poll has no referent in this ring and is ignored")
	}

	addrs, err := resolveFleetAddrs(cmd)
	if err != nil {
		return err
	}

	waitMS, _ := cmd.Flags().GetInt64("wait-ms")
	gossipMS, _ := cmd.Flags().GetInt64("wait-time")
	overwrite, _ := cmd.Flags().GetBool("overwrite-nodes-dir")
	noBlock, _ := cmd.Flags().GetBool("no-block")

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own executable: %w", err)
	}

	procs := make([]*exec.Cmd, 0, len(addrs))
	defer func() {
		for _, p := range procs {
			terminateGroup(p)
		}
	}()

	for _, addr := range addrs {
		if overwrite {
			_, port, _ := net.SplitHostPort(addr)
			_ = os.RemoveAll("nodes/" + port)
		}

		c := exec.Command(exe, "run", "--addr", addr, "--wait-time", strconv.FormatInt(gossipMS, 10))
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		setGroupLeader(c)
		if err := c.Start(); err != nil {
			return fmt.Errorf("spawn node %s: %w", addr, err)
		}
		procs = append(procs, c)
		log.Info().Str("addr", addr).Int("pid", c.Process.Pid).Msg("spawned node")
	}

	deadline := time.Now().Add(time.Duration(waitMS) * time.Millisecond)
	for _, addr := range addrs {
		if !waitForAccept(addr, deadline, 50*time.Millisecond) {
			return fmt.Errorf("node %s did not start listening within %dms", addr, waitMS)
		}
	}
	log.Info().Int("count", len(addrs)).Msg("all nodes accepting connections")

	if err := wireRing(addrs); err != nil {
		return err
	}
	log.Info().Msg("ring wired")

	if err := sendLine(addrs[0], "NETMAP DISCOVER"); err != nil {
		log.Warn().Err(err).Msg("netmap discover failed")
	}
	if err := sendLine(addrs[0], "TOPOLOGY WALK"); err != nil {
		log.Warn().Err(err).Msg("topology walk failed")
	}

	if noBlock {
		// Detach: the spawned processes outlive this command. Clear procs
		// so the deferred cleanup above doesn't tear them down on exit.
		procs = nil
		return nil
	}

	return waitForShutdown(procs)
}

// resolveFleetAddrs returns the list of addresses to spawn, either from
// --topology-file or from -n/-p/--host.
func resolveFleetAddrs(cmd *cobra.Command) ([]string, error) {
	if path, _ := cmd.Flags().GetString("topology-file"); path != "" {
		return loadTopologyFile(path)
	}

	count, _ := cmd.Flags().GetInt("count")
	basePort, _ := cmd.Flags().GetInt("base-port")
	host, _ := cmd.Flags().GetString("host")
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", count)
	}

	addrs := make([]string, count)
	for i := 0; i < count; i++ {
		addrs[i] = net.JoinHostPort(host, strconv.Itoa(basePort+i))
	}
	return addrs, nil
}

// wireRing sends NODE NEXT addrs[i+1] to addrs[i] for every i, closing
// the cycle back to addrs[0].
func wireRing(addrs []string) error {
	for i, addr := range addrs {
		next := addrs[(i+1)%len(addrs)]
		if err := sendLine(addr, "NODE NEXT "+next); err != nil {
			return fmt.Errorf("wire %s -> %s: %w", addr, next, err)
		}
	}
	return nil
}

// sendLine dials addr, writes one command line, and reads back its first
// reply line (discarded beyond error-checking) — set-network only cares
// whether the command was accepted, not its payload.
func sendLine(addr, line string) error {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	if strings.HasPrefix(reply, "ERR") {
		return fmt.Errorf("%s replied %s", addr, strings.TrimSpace(reply))
	}
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM or a "quit" line on stdin,
// then forwards SIGTERM to every spawned node's process group and reaps
// them.
func waitForShutdown(procs []*exec.Cmd) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	quitCh := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == "quit" {
				close(quitCh)
				return
			}
		}
	}()

	select {
	case <-sigCh:
	case <-quitCh:
	}

	for _, p := range procs {
		terminateGroup(p)
	}
	for _, p := range procs {
		_ = p.Wait()
	}
	return nil
}
