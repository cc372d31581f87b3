package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// Edge is one hop of a topology-walk accumulator: from_port -> to_port.
type Edge struct {
	From string
	To   string
}

// EncodeHistory serialises a topology-walk accumulator as
// "from->to;from->to;...".
func EncodeHistory(edges []Edge) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = fmt.Sprintf("%s->%s", e.From, e.To)
	}
	return strings.Join(parts, ";")
}

// DecodeHistory parses a topology-walk accumulator. An empty string
// decodes to no edges.
func DecodeHistory(s string) ([]Edge, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	raw := strings.Split(s, ";")
	edges := make([]Edge, 0, len(raw))
	for _, r := range raw {
		pair := strings.SplitN(r, "->", 2)
		if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
			return nil, fmt.Errorf("malformed history edge %q", r)
		}
		edges = append(edges, Edge{From: pair[0], To: pair[1]})
	}
	return edges, nil
}

// HistoryToTopology folds a completed topology-walk accumulator into a
// from->to map.
func HistoryToTopology(edges []Edge) map[string]string {
	m := make(map[string]string, len(edges))
	for _, e := range edges {
		m[e.From] = e.To
	}
	return m
}

// TopologyToHistory renders a topology map as an ordered edge list
// starting at `start`, walking `next` until it revisits start. TOPOLOGY
// SET broadcasts use TopologyEdgesSorted instead.
func TopologyToHistory(topology map[string]string, start string) []Edge {
	edges := make([]Edge, 0, len(topology))
	cur := start
	for i := 0; i < len(topology); i++ {
		next, ok := topology[cur]
		if !ok {
			break
		}
		edges = append(edges, Edge{From: cur, To: next})
		cur = next
		if cur == start {
			break
		}
	}
	return edges
}

// TopologyEdgesSorted renders a topology map as an edge list sorted by
// the "from" port, used when broadcasting the full map rather than
// walking an in-progress accumulator.
func TopologyEdgesSorted(m map[string]string) []Edge {
	froms := make([]string, 0, len(m))
	for f := range m {
		froms = append(froms, f)
	}
	sort.Strings(froms)
	edges := make([]Edge, len(froms))
	for i, f := range froms {
		edges[i] = Edge{From: f, To: m[f]}
	}
	return edges
}

// EncodeNetmap serialises a netmap as "port=Status,port=Status,...", keys
// sorted for deterministic output.
func EncodeNetmap(m map[string]ring.Status) string {
	ports := make([]string, 0, len(m))
	for p := range m {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprintf("%s=%s", p, m[p])
	}
	return strings.Join(parts, ",")
}

// DecodeNetmap parses a netmap accumulator/broadcast payload. An empty
// string decodes to an empty map.
func DecodeNetmap(s string) (map[string]ring.Status, error) {
	out := make(map[string]ring.Status)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ",") {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("malformed netmap entry %q", entry)
		}
		status, err := ring.ParseStatus(kv[1])
		if err != nil {
			return nil, fmt.Errorf("malformed netmap entry %q: %w", entry, err)
		}
		out[kv[0]] = status
	}
	return out, nil
}

// sanitizeTagName replaces ':' and ';' in a filename before it's embedded
// in a file-tag entry, since those are the entry's own field separators.
func sanitizeTagName(name string) string {
	r := strings.NewReplacer(":", "_", ";", "_")
	return r.Replace(name)
}

// EncodeFileTags serialises file tags as
// "name:origin:size:parts;name:origin:size:parts;...".
func EncodeFileTags(tags map[string]ring.FileTag) string {
	names := make([]string, 0, len(tags))
	for n := range tags {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		t := tags[n]
		parts[i] = fmt.Sprintf("%s:%s:%d:%d", sanitizeTagName(n), t.Origin, t.Size, t.Parts)
	}
	return strings.Join(parts, ";")
}

// DecodeFileTags parses a file-tags accumulator/broadcast payload.
func DecodeFileTags(s string) (map[string]ring.FileTag, error) {
	out := make(map[string]ring.FileTag)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ";") {
		f := strings.Split(entry, ":")
		if len(f) != 4 {
			return nil, fmt.Errorf("malformed file tag entry %q", entry)
		}
		size, err := strconv.ParseInt(f[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed file tag entry %q: %w", entry, err)
		}
		parts, err := strconv.Atoi(f[3])
		if err != nil {
			return nil, fmt.Errorf("malformed file tag entry %q: %w", entry, err)
		}
		out[f[0]] = ring.FileTag{Origin: f[1], Size: size, Parts: parts}
	}
	return out, nil
}
