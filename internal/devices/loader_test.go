package devices

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/decoder"
	"github.com/KevinKickass/dbscada/internal/types"
)

func plantConfig(groups ...string) *config.Config {
	return &config.Config{
		Modbus: config.ModbusConfig{
			Port:    502,
			UnitID:  1,
			Timeout: 3 * time.Second,
			Addresses: map[string]string{
				"apis1":     "10.0.0.1",
				"apis2_pb":  "10.0.0.21",
				"apis2_li":  "10.0.0.22",
				"apis2_rdx": "10.0.0.23",
				"apis2_sc":  "10.0.0.24",
				"apis3":     "10.0.0.3",
			},
		},
		Acquisition: config.AcquisitionConfig{Groups: groups},
	}
}

func TestDefaultTopology(t *testing.T) {
	topo, err := LoadTopology("")
	require.NoError(t, err)

	groups, err := topo.Resolve(plantConfig("apis1", "apis2", "apis3"))
	require.NoError(t, err)
	require.Len(t, groups, 3)

	apis1 := groups[0]
	assert.Equal(t, "apis1", apis1.Name)
	assert.Equal(t, 116500*time.Microsecond, apis1.Period)
	require.Len(t, apis1.Devices, 1)
	assert.Equal(t, "10.0.0.1:502", apis1.Devices[0].Address())
	assert.Equal(t, uint8(1), apis1.Devices[0].UnitID)
	assert.Equal(t, 3*time.Second, apis1.Devices[0].Timeout)
	assert.Equal(t, []types.BlockSpec{
		{Table: decoder.TableAPIS1IFV1, Start: 1, Count: 24},
		{Table: decoder.TableAPIS1IFV2, Start: 101, Count: 24},
		{Table: decoder.TableAPIS1IFV3, Start: 300, Count: 23},
	}, apis1.Devices[0].Blocks)

	apis2 := groups[1]
	assert.Equal(t, time.Second, apis2.Period)
	require.Len(t, apis2.Devices, 4)
	names := []string{}
	for _, d := range apis2.Devices {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"apis2_pb", "apis2_li", "apis2_rdx", "apis2_sc"}, names)
	assert.Len(t, apis2.Layouts, 4)

	apis3 := groups[2]
	require.Len(t, apis3.Devices[0].Blocks, 2)
	assert.Equal(t, uint16(94), apis3.Devices[0].Blocks[1].Start)
	assert.Equal(t, decoder.TableAPIS3Motor2, apis3.Layouts[1].Table)
}

func TestResolveSubsetKeepsConfigOrder(t *testing.T) {
	topo, err := LoadTopology("")
	require.NoError(t, err)

	groups, err := topo.Resolve(plantConfig("apis3", "apis1"))
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "apis3", groups[0].Name)
	assert.Equal(t, "apis1", groups[1].Name)
}

func TestResolveMissingDeviceAddress(t *testing.T) {
	topo, err := LoadTopology("")
	require.NoError(t, err)

	cfg := plantConfig("apis2")
	delete(cfg.Modbus.Addresses, "apis2_sc")

	_, err = topo.Resolve(cfg)
	var keyErr *config.KeyError
	require.True(t, errors.As(err, &keyErr))
	assert.Equal(t, "modbus_ip_apis2_sc", keyErr.Key)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestResolveUnknownGroup(t *testing.T) {
	topo, err := LoadTopology("")
	require.NoError(t, err)

	_, err = topo.Resolve(plantConfig("apis4"))
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestTopologyFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
groups:
  - name: apis3
    period: 2s
    devices:
      - name: apis3
        port: 1502
        unit_id: 7
        blocks:
          - { table: apis3_motor1, start: 0, count: 74 }
`), 0o600))

	topo, err := LoadTopology(path)
	require.NoError(t, err)

	groups, err := topo.Resolve(plantConfig("apis3"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2*time.Second, groups[0].Period)
	assert.Equal(t, "10.0.0.3:1502", groups[0].Devices[0].Address())
	assert.Equal(t, uint8(7), groups[0].Devices[0].UnitID)
}

func TestTopologyRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"schema": `
version: 1
groups:
  - name: apis1
    period: 1s
    devices:
      - name: apis1
        blocks:
          - { table: apis1_ifv1, start: 1, count: 500 }
`,
		"syntax": "version: [1\n",
		"period": `
version: 1
groups:
  - name: g
    period: 10
    devices:
      - name: d
        blocks:
          - { table: apis1_ifv1, start: 1, count: 24 }
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTopology([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConfig))
		})
	}
}

func TestResolveRejectsWordCountMismatch(t *testing.T) {
	topo, err := ParseTopology([]byte(`
version: 1
groups:
  - name: apis1
    period: 1s
    devices:
      - name: apis1
        blocks:
          - { table: apis1_ifv1, start: 1, count: 20 }
`))
	require.NoError(t, err)

	_, err = topo.Resolve(plantConfig("apis1"))
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestResolveRejectsDuplicateTable(t *testing.T) {
	topo, err := ParseTopology([]byte(`
version: 1
groups:
  - name: apis1
    period: 1s
    devices:
      - name: apis1
        blocks:
          - { table: apis1_ifv1, start: 1, count: 24 }
          - { table: apis1_ifv1, start: 101, count: 24 }
`))
	require.NoError(t, err)

	_, err = topo.Resolve(plantConfig("apis1"))
	assert.True(t, errors.Is(err, types.ErrConfig))
}
