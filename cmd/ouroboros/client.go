package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var clientCmd = &cobra.Command{
	Use:   "client <addr> <command line...>",
	Short: "Send one raw ring command and print the reply",
	Long: `client is a tiny line-oriented debug client: it dials addr, writes one
command line, optionally streams stdin as the command's body (for FILE
PUSH), and prints whatever comes back until the connection closes or
--timeout (5s by default) passes with no more data.

It contains no ring logic of its own — "only an ordinary client" of the
protocol, useful for driving a ring by hand or from a test harness.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runClient,
}

func init() {
	clientCmd.Flags().Bool("stdin-body", false, "Stream stdin to the connection after the command line (for FILE PUSH)")
	clientCmd.Flags().Duration("timeout", 5*time.Second, "Dial and idle-read timeout")
}

func runClient(cmd *cobra.Command, args []string) error {
	addr := args[0]
	line := strings.Join(args[1:], " ")
	withBody, _ := cmd.Flags().GetBool("stdin-body")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	if withBody {
		if _, err := io.Copy(conn, os.Stdin); err != nil {
			return fmt.Errorf("stream stdin body: %w", err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}

	r := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(timeout))
		b, err := r.ReadByte()
		if err != nil {
			return nil
		}
		os.Stdout.Write([]byte{b})
	}
}
