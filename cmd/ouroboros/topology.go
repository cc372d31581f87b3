package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// topologyFile is an alternate way to describe a fixed set of node
// addresses to wire into a ring, in place of the -n/-p/--host flag
// triple. It names nothing set-network's flag form can't already
// express; it exists for operators who keep their cluster layout in a
// checked-in file instead of a one-line command.
type topologyFile struct {
	Nodes []string `yaml:"nodes"`
}

func loadTopologyFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	var tf topologyFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse topology file: %w", err)
	}
	if len(tf.Nodes) == 0 {
		return nil, fmt.Errorf("topology file %s names no nodes", path)
	}
	return tf.Nodes, nil
}
