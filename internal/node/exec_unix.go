//go:build unix

package node

import (
	"os/exec"
	"syscall"
)

// setDetached puts a respawned child in its own process group so a
// signal sent to this node's group (e.g. on shutdown) doesn't also kill
// the node it just brought back up.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
