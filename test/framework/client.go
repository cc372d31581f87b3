package framework

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	dialTimeout = 2 * time.Second
	readTimeout = 5 * time.Second
)

// SendCommand dials addr, writes one protocol line, and collects reply
// lines until a terminal one (OK, OK-prefixed, ERR-prefixed, or PONG)
// arrives or the peer closes the connection. The terminal line is
// included in the returned slice.
func SendCommand(addr, line string) ([]string, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(readTimeout))

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return nil, err
	}

	var lines []string
	r := bufio.NewReader(conn)
	for {
		reply, err := r.ReadString('\n')
		if err != nil {
			if len(lines) > 0 {
				return lines, nil
			}
			return nil, err
		}
		reply = strings.TrimRight(reply, "\r\n")
		lines = append(lines, reply)
		if isTerminalReply(reply) {
			return lines, nil
		}
	}
}

func isTerminalReply(line string) bool {
	return line == "OK" || line == "PONG" ||
		strings.HasPrefix(line, "OK ") || strings.HasPrefix(line, "ERR")
}

// Pong reports whether the node at addr answers NODE PING with PONG.
func Pong(addr string) bool {
	lines, err := SendCommand(addr, "NODE PING")
	return err == nil && len(lines) == 1 && lines[0] == "PONG"
}

// PushFile pushes payload under name to the node at addr and returns an
// error unless the push is confirmed end-to-end.
func PushFile(addr, name, payload string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(readTimeout))

	if _, err := fmt.Fprintf(conn, "FILE PUSH %d %s\n", len(payload), name); err != nil {
		return err
	}
	if _, err := io.WriteString(conn, payload); err != nil {
		return err
	}

	r := bufio.NewReader(conn)
	for {
		reply, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("push not confirmed: %w", err)
		}
		reply = strings.TrimRight(reply, "\r\n")
		if reply == "OK" {
			return nil
		}
		if strings.HasPrefix(reply, "ERR") {
			return fmt.Errorf("push rejected: %s", reply)
		}
	}
}

// PullFile pulls name from the node at addr, returning the reassembled
// bytes. A pull of an unknown file comes back as an error.
func PullFile(addr, name string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(readTimeout))

	if _, err := fmt.Fprintf(conn, "FILE PULL %s\n", name); err != nil {
		return "", err
	}
	body, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(string(body), "ERR") {
		return "", fmt.Errorf("pull rejected: %s", strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
