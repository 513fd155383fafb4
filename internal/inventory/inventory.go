// Package inventory loads the host inventory: the set of reachable hypervisor
// hosts and their connection parameters. The inventory is consumed by the
// transport and prober; it is not owned by the reconciler core.
package inventory

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Host describes one reachable hypervisor host.
type Host struct {
	Name                     string `yaml:"name"`
	Address                  string `yaml:"address"`
	Port                     string `yaml:"port"`
	User                     string `yaml:"user"`
	KeyPath                  string `yaml:"keyPath"`
	KnownHostsPath           string `yaml:"knownHosts"`
	InsecureSkipHostKeyCheck bool   `yaml:"insecureSkipHostKeyCheck"`
}

// Inventory is the full host list.
type Inventory struct {
	Hosts []Host `yaml:"hosts"`
}

// Load reads and validates an inventory file.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read inventory %q: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses and validates an inventory from raw YAML bytes.
func LoadBytes(data []byte, source string) (*Inventory, error) {
	var inv Inventory
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&inv); err != nil {
		return nil, fmt.Errorf("inventory %q: YAML parse error: %w", source, err)
	}

	var errs []string
	seen := make(map[string]bool)
	for i, h := range inv.Hosts {
		if h.Name == "" {
			errs = append(errs, fmt.Sprintf("hosts[%d]: name is required", i))
			continue
		}
		if seen[h.Name] {
			errs = append(errs, fmt.Sprintf("hosts[%d]: duplicate host name %q", i, h.Name))
		}
		seen[h.Name] = true
		if h.Address == "" {
			errs = append(errs, fmt.Sprintf("hosts[%d] (%s): address is required", i, h.Name))
		}
		if h.User == "" {
			errs = append(errs, fmt.Sprintf("hosts[%d] (%s): user is required", i, h.Name))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("inventory %q is invalid:\n  - %s", source, strings.Join(errs, "\n  - "))
	}
	return &inv, nil
}

// Lookup returns the host entry with the given name.
func (inv *Inventory) Lookup(name string) (Host, bool) {
	for _, h := range inv.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}

// Covers reports whether every name in hosts has an inventory entry, and
// returns the missing names otherwise.
func (inv *Inventory) Covers(hosts []string) (missing []string) {
	for _, name := range hosts {
		if _, ok := inv.Lookup(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
