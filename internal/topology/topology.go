// Package topology loads a simulated network's static description from
// TOML: which drones, clients, and servers exist, how they are wired, and
// (for servers) which role they run. This is the Go-ified shape of
// original_source's network_initializer/config.rs, unmarshalled with
// github.com/BurntSushi/toml rather than serde.
package topology

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Drone describes one drone entry. Drones are an external collaborator
// component (SPEC_FULL.md §1 Non-goals): the topology loader records their
// id, wiring, and packet-drop-rate so a supervisor can reserve the id and
// account for the edge, but overlaynode never spawns a forwarding drone
// node from this entry.
type Drone struct {
	ID               uint8   `toml:"id"`
	ConnectedNodeIDs []uint8 `toml:"connected_node_ids"`
	PDR              float32 `toml:"pdr"`
}

// Client describes one client node and the drones it is wired to.
type Client struct {
	ID                uint8   `toml:"id"`
	ConnectedDroneIDs []uint8 `toml:"connected_drone_ids"`
}

// Server describes one server node: its wiring, which role it runs
// ("communication" or "content"), and the directory its role persists
// state under.
type Server struct {
	ID                uint8   `toml:"id"`
	ConnectedDroneIDs []uint8 `toml:"connected_drone_ids"`
	ServerType        string  `toml:"server_type"`
	BasePath          string  `toml:"base_path"`
}

// Config is a full topology description, as loaded from one TOML file.
type Config struct {
	Drone  []Drone        `toml:"drone"`
	Client []Client       `toml:"client"`
	Server []Server       `toml:"server"`
	Edge   []EdgeOverride `toml:"edge"`
}

const (
	ServerTypeCommunication = "communication"
	ServerTypeContent       = "content"
)

// Transport names one of the link implementations a wired edge can use.
const (
	TransportInproc = "inproc"
	TransportMQTT   = "mqtt"
	TransportSerial = "serial"
)

// EdgeOverride names a (from, to) pair's transport. It also counts as
// declaring the edge itself, so a pair wired only here (with no matching
// connected_*_ids entry) still gets an edge. Edges with no matching
// override use the default in-process channel pair. Grounded on
// SPEC_FULL.md §4's "Link satisfied by chanlink, mqttlink, and seriallink"
// requirement: the topology file is the natural place to pick a transport
// per edge, since connected_*_ids alone carries no transport metadata.
type EdgeOverride struct {
	From      uint8  `toml:"from"`
	To        uint8  `toml:"to"`
	Transport string `toml:"transport"`

	// MQTT fields, used when Transport == TransportMQTT.
	Broker string `toml:"broker"`
	Topic  string `toml:"topic"`

	// Serial fields, used when Transport == TransportSerial. Each side of
	// the edge opens its own port, the way two ends of a null-modem pair
	// would in a bench setup.
	PortA    string `toml:"port_a"`
	PortB    string `toml:"port_b"`
	BaudRate int    `toml:"baud_rate"`
}

// Load reads and parses the TOML topology file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: reading %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("topology: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("topology: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks id uniqueness across all three node kinds, server_type
// admissibility, and that every connected_*_ids reference names an id
// actually present in the config.
func (c *Config) Validate() error {
	seen := make(map[uint8]string)
	for _, d := range c.Drone {
		if other, ok := seen[d.ID]; ok {
			return fmt.Errorf("duplicate node id %d (drone, %s)", d.ID, other)
		}
		seen[d.ID] = "drone"
	}
	for _, cl := range c.Client {
		if other, ok := seen[cl.ID]; ok {
			return fmt.Errorf("duplicate node id %d (client, %s)", cl.ID, other)
		}
		seen[cl.ID] = "client"
	}
	for _, s := range c.Server {
		if other, ok := seen[s.ID]; ok {
			return fmt.Errorf("duplicate node id %d (server, %s)", s.ID, other)
		}
		seen[s.ID] = "server"
		if s.ServerType != ServerTypeCommunication && s.ServerType != ServerTypeContent {
			return fmt.Errorf("server %d: unknown server_type %q", s.ID, s.ServerType)
		}
	}

	for _, d := range c.Drone {
		for _, peer := range d.ConnectedNodeIDs {
			if _, ok := seen[peer]; !ok {
				return fmt.Errorf("drone %d: connected_node_ids references unknown id %d", d.ID, peer)
			}
		}
	}
	for _, cl := range c.Client {
		for _, peer := range cl.ConnectedDroneIDs {
			if seen[peer] != "drone" {
				return fmt.Errorf("client %d: connected_drone_ids references non-drone id %d", cl.ID, peer)
			}
		}
	}
	for _, s := range c.Server {
		for _, peer := range s.ConnectedDroneIDs {
			if seen[peer] != "drone" {
				return fmt.Errorf("server %d: connected_drone_ids references non-drone id %d", s.ID, peer)
			}
		}
	}

	for _, e := range c.Edge {
		if _, ok := seen[e.From]; !ok {
			return fmt.Errorf("edge override %d-%d: references unknown id %d", e.From, e.To, e.From)
		}
		if _, ok := seen[e.To]; !ok {
			return fmt.Errorf("edge override %d-%d: references unknown id %d", e.From, e.To, e.To)
		}
		switch e.Transport {
		case TransportInproc, "":
		case TransportMQTT:
			if e.Broker == "" {
				return fmt.Errorf("edge override %d-%d: mqtt transport requires broker", e.From, e.To)
			}
		case TransportSerial:
			if e.PortA == "" || e.PortB == "" {
				return fmt.Errorf("edge override %d-%d: serial transport requires port_a and port_b", e.From, e.To)
			}
		default:
			return fmt.Errorf("edge override %d-%d: unknown transport %q", e.From, e.To, e.Transport)
		}
	}
	return nil
}

// TransportFor returns the edge override wired between a and b, matched
// regardless of which side named it, or a zero-value override (inproc) if
// none was configured.
func (c *Config) TransportFor(a, b uint8) EdgeOverride {
	for _, e := range c.Edge {
		if (e.From == a && e.To == b) || (e.From == b && e.To == a) {
			return e
		}
	}
	return EdgeOverride{From: a, To: b, Transport: TransportInproc}
}

// Edges returns every bilateral (from, to) pair the config wires, each
// listed once regardless of which side's connected_ids named it.
func (c *Config) Edges() [][2]uint8 {
	var edges [][2]uint8
	seen := make(map[[2]uint8]bool)
	add := func(a, b uint8) {
		key := [2]uint8{a, b}
		if a > b {
			key = [2]uint8{b, a}
		}
		if seen[key] {
			return
		}
		seen[key] = true
		edges = append(edges, [2]uint8{a, b})
	}
	for _, d := range c.Drone {
		for _, peer := range d.ConnectedNodeIDs {
			add(d.ID, peer)
		}
	}
	for _, cl := range c.Client {
		for _, peer := range cl.ConnectedDroneIDs {
			add(cl.ID, peer)
		}
	}
	for _, s := range c.Server {
		for _, peer := range s.ConnectedDroneIDs {
			add(s.ID, peer)
		}
	}
	for _, e := range c.Edge {
		add(e.From, e.To)
	}
	return edges
}
