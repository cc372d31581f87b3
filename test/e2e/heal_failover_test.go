package e2e

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/hazardous-sun/ouroboros-fs/test/framework"
)

// buildBinary compiles the ouroboros binary into a per-test temp dir so
// the heal workflow's re-exec path runs against the code under test.
func buildBinary(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "ouroboros")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/ouroboros")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build ouroboros binary: %v\n%s", err, out)
	}
	return bin
}

var (
	respawnPIDRe = regexp.MustCompile(`pid=(\d+)`)
	ansiRe       = regexp.MustCompile("\x1b\\[[0-9;]*m")
)

// killRespawned reaps any node the survivor re-exec'd during the test.
// Respawned nodes are detached into their own process group and inherit
// the survivor's stdout, so their startup line (with pid) lands in the
// survivor's captured logs. Console log lines carry ANSI color codes
// that would split field names from values, so they are stripped before
// matching.
func killRespawned(survivor *framework.Process, deadAddr string) {
	for _, line := range strings.Split(survivor.Logs(), "\n") {
		line = ansiRe.ReplaceAllString(line, "")
		if !strings.Contains(line, "starting node") || !strings.Contains(line, "addr="+deadAddr) {
			continue
		}
		if m := respawnPIDRe.FindStringSubmatch(line); m != nil {
			pid, _ := strconv.Atoi(m[1])
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}

// TestSuccessorKillAndHeal kills a real node process with SIGKILL and
// asserts the survivor's failure detector respawns it, rewires its
// successor pointer, and re-syncs netmap and file tags — the full heal
// workflow over real processes, not a closed listener.
func TestSuccessorKillAndHeal(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping kill-and-heal test in short mode")
	}

	bin := buildBinary(t)
	workDir := t.TempDir()

	base := 21000 + os.Getpid()%2000*2
	addrA := fmt.Sprintf("127.0.0.1:%d", base)
	addrB := fmt.Sprintf("127.0.0.1:%d", base+1)
	portA := strconv.Itoa(base)
	portB := strconv.Itoa(base + 1)

	nodeA := framework.NewProcess(bin, "run", "--addr", addrA, "--wait-time", "250")
	nodeA.Dir = workDir
	nodeB := framework.NewProcess(bin, "run", "--addr", addrB, "--wait-time", "250")
	nodeB.Dir = workDir

	if err := nodeA.Start(); err != nil {
		t.Fatalf("start node A: %v", err)
	}
	t.Cleanup(func() { _ = nodeA.Stop() })
	if err := nodeB.Start(); err != nil {
		t.Fatalf("start node B: %v", err)
	}
	t.Cleanup(func() { _ = nodeB.Kill() })
	t.Cleanup(func() { killRespawned(nodeA, addrB) })

	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	for _, addr := range []string{addrA, addrB} {
		if err := waiter.WaitForPong(ctx, addr); err != nil {
			t.Fatal(err)
		}
	}

	payload := "ABCDEFGHIJ"

	t.Run("WireAndSeed", func(t *testing.T) {
		for _, wire := range [][2]string{{addrA, addrB}, {addrB, addrA}} {
			lines, err := framework.SendCommand(wire[0], "NODE NEXT "+wire[1])
			if err != nil {
				t.Fatalf("wire %s -> %s: %v", wire[0], wire[1], err)
			}
			if !strings.HasPrefix(lines[len(lines)-1], "OK") {
				t.Fatalf("wire %s -> %s replied %q", wire[0], wire[1], lines)
			}
		}
		if _, err := framework.SendCommand(addrA, "NETMAP DISCOVER"); err != nil {
			t.Fatalf("netmap discover: %v", err)
		}
		if _, err := framework.SendCommand(addrA, "TOPOLOGY WALK"); err != nil {
			t.Fatalf("topology walk: %v", err)
		}
		if err := framework.PushFile(addrA, "movie.bin", payload); err != nil {
			t.Fatalf("push: %v", err)
		}
		t.Log("✓ two-node ring wired, seeded, and holding a file")
	})

	t.Run("KillSuccessor", func(t *testing.T) {
		if err := nodeB.Kill(); err != nil {
			t.Fatalf("kill node B: %v", err)
		}
		if nodeB.IsRunning() {
			t.Fatal("node B still running after SIGKILL")
		}
		t.Log("✓ successor killed")

		// The survivor's detector pings every 250ms; once it notices, it
		// re-execs the binary at the dead address and waits for it to
		// accept. Success shows up as the dead address answering again.
		if err := waiter.WaitForPong(ctx, addrB); err != nil {
			t.Fatalf("successor was not respawned: %v\nsurvivor logs:\n%s", err, nodeA.Logs())
		}
		t.Log("✓ successor respawned and accepting connections")
	})

	t.Run("ResyncedState", func(t *testing.T) {
		// Successor pointer pushed to the replacement.
		if err := waiter.WaitFor(ctx, func() bool {
			lines, err := framework.SendCommand(addrB, "NODE STATUS")
			if err != nil {
				return false
			}
			for _, line := range lines {
				if line == "NEXT "+addrA {
					return true
				}
			}
			return false
		}, "respawned node to point back at the survivor"); err != nil {
			t.Fatal(err)
		}

		// Netmap re-announced with both nodes alive.
		if err := waiter.WaitFor(ctx, func() bool {
			lines, err := framework.SendCommand(addrB, "NETMAP GET")
			if err != nil {
				return false
			}
			joined := strings.Join(lines, "\n")
			return strings.Contains(joined, portA+"=Alive") && strings.Contains(joined, portB+"=Alive")
		}, "respawned node to see the whole ring alive"); err != nil {
			t.Fatal(err)
		}

		// File tags re-synced, so the replacement can answer FILE LIST.
		if err := waiter.WaitFor(ctx, func() bool {
			lines, err := framework.SendCommand(addrB, "FILE LIST")
			if err != nil {
				return false
			}
			return strings.Contains(strings.Join(lines, "\n"), "movie.bin,"+portA+",10")
		}, "respawned node to know the pushed file"); err != nil {
			t.Fatal(err)
		}

		// The whole file is still readable through the healed ring.
		if err := waiter.WaitFor(ctx, func() bool {
			body, err := framework.PullFile(addrA, "movie.bin")
			return err == nil && body == payload
		}, "pull to reassemble the original payload"); err != nil {
			t.Fatal(err)
		}
		t.Log("✓ replacement re-synced: successor pointer, netmap, file tags, and a full pull")
	})
}
