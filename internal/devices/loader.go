package devices

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/decoder"
	"github.com/KevinKickass/dbscada/internal/types"
)

//go:embed topology.yaml
var defaultTopology []byte

type Topology struct {
	Version int         `yaml:"version"`
	Groups  []GroupSpec `yaml:"groups"`
}

type GroupSpec struct {
	Name    string       `yaml:"name"`
	Period  string       `yaml:"period"`
	Devices []DeviceSpec `yaml:"devices"`
}

type DeviceSpec struct {
	Name   string            `yaml:"name"`
	Port   *int              `yaml:"port,omitempty"`
	UnitID *int              `yaml:"unit_id,omitempty"`
	Blocks []types.BlockSpec `yaml:"blocks"`
}

// Group is a resolved device group: addresses filled in from the config,
// tables bound to their layouts.
type Group struct {
	Name    string
	Period  time.Duration
	Devices []types.DeviceEndpoint
	Layouts []*decoder.Layout
}

// LoadTopology reads the topology file at path, or the built-in plant
// topology when path is empty.
func LoadTopology(path string) (*Topology, error) {
	data := defaultTopology
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: topology %s: %v", types.ErrConfig, path, err)
		}
	}
	return ParseTopology(data)
}

func ParseTopology(data []byte) (*Topology, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: topology: %v", types.ErrConfig, err)
	}
	if err := validator.ValidateDocument(doc); err != nil {
		return nil, fmt.Errorf("%w: topology: %v", types.ErrConfig, err)
	}

	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("%w: topology: %v", types.ErrConfig, err)
	}
	return &topo, nil
}

// Resolve binds the enabled groups to addresses and layouts. Groups come
// back in the order the config lists them.
func (t *Topology) Resolve(cfg *config.Config) ([]Group, error) {
	byName := make(map[string]GroupSpec, len(t.Groups))
	for _, g := range t.Groups {
		byName[g.Name] = g
	}

	tables := make(map[types.TableID]string)
	groups := make([]Group, 0, len(cfg.Acquisition.Groups))

	for _, name := range cfg.Acquisition.Groups {
		spec, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown device group %q", types.ErrConfig, name)
		}

		period, err := time.ParseDuration(spec.Period)
		if err != nil || period <= 0 {
			return nil, fmt.Errorf("%w: group %s: invalid period %q", types.ErrConfig, name, spec.Period)
		}

		group := Group{Name: name, Period: period}

		for _, dev := range spec.Devices {
			endpoint, err := resolveDevice(dev, cfg)
			if err != nil {
				return nil, err
			}

			for _, block := range dev.Blocks {
				layout, err := decoder.Lookup(block.Table)
				if err != nil {
					return nil, fmt.Errorf("device %s: %w", dev.Name, err)
				}
				if int(block.Count) != layout.Words {
					return nil, fmt.Errorf("%w: device %s: table %s needs %d words, block reads %d",
						types.ErrConfig, dev.Name, block.Table, layout.Words, block.Count)
				}
				if owner, dup := tables[block.Table]; dup {
					return nil, fmt.Errorf("%w: table %s fed by both %s and %s",
						types.ErrConfig, block.Table, owner, dev.Name)
				}
				tables[block.Table] = dev.Name
				group.Layouts = append(group.Layouts, layout)
			}

			group.Devices = append(group.Devices, endpoint)
		}

		groups = append(groups, group)
	}

	return groups, nil
}

func resolveDevice(dev DeviceSpec, cfg *config.Config) (types.DeviceEndpoint, error) {
	host, err := cfg.Modbus.DeviceAddress(dev.Name)
	if err != nil {
		return types.DeviceEndpoint{}, err
	}

	port := cfg.Modbus.Port
	if dev.Port != nil {
		port = *dev.Port
	}
	unitID := cfg.Modbus.UnitID
	if dev.UnitID != nil {
		unitID = uint8(*dev.UnitID)
	}

	return types.DeviceEndpoint{
		Name:    dev.Name,
		Host:    host,
		Port:    port,
		UnitID:  unitID,
		Timeout: cfg.Modbus.Timeout,
		Blocks:  dev.Blocks,
	}, nil
}
