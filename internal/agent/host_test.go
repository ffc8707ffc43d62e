package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickMAC(t *testing.T) {
	ifaces := []psnet.InterfaceStat{
		{Index: 3, Name: "wlan0", HardwareAddr: "11:22:33:44:55:66", Flags: []string{"up", "broadcast"}},
		{Index: 1, Name: "lo", HardwareAddr: "", Flags: []string{"up", "loopback"}},
		{Index: 2, Name: "eth0", HardwareAddr: "AA:BB:CC:DD:EE:FF", Flags: []string{"up", "broadcast"}},
		{Index: 0, Name: "down0", HardwareAddr: "de:ad:be:ef:00:00", Flags: []string{"broadcast"}},
	}
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", pickMAC(ifaces))

	assert.Empty(t, pickMAC([]psnet.InterfaceStat{{Index: 1, Name: "lo", Flags: []string{"up", "loopback"}}}))
}

func TestDetectIdentity(t *testing.T) {
	a := DetectIdentity(context.Background())
	b := DetectIdentity(context.Background())

	assert.NotEmpty(t, a.DeviceID)
	assert.NotEqual(t, a.DeviceID, b.DeviceID, "device id is regenerated on every start")
	assert.NotEmpty(t, a.MACAddress)
}

func TestCollector_Collect(t *testing.T) {
	c := NewCollector([]string{MetricCPUUsage, MetricRAMUsage, MetricDiskUsage, MetricNetBytesSent, MetricNetBytesRecv}, "/data")
	c.usageCollector = func(ctx context.Context, d time.Duration, perCPU bool) ([]float64, error) {
		return []float64{42.5}, nil
	}
	c.memCollector = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 61.2}, nil
	}
	c.diskCollector = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		assert.Equal(t, "/data", path)
		return &disk.UsageStat{UsedPercent: 80}, nil
	}
	netCalls := 0
	c.netCollector = func(ctx context.Context, pernic bool) ([]psnet.IOCountersStat, error) {
		netCalls++
		return []psnet.IOCountersStat{{BytesSent: 1000, BytesRecv: 2000}}, nil
	}

	values, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		MetricCPUUsage:     42.5,
		MetricRAMUsage:     61.2,
		MetricDiskUsage:    80,
		MetricNetBytesSent: 1000,
		MetricNetBytesRecv: 2000,
	}, values)
	assert.Equal(t, 1, netCalls, "network counters are read once per batch")
}

func TestCollector_PartialFailure(t *testing.T) {
	c := NewCollector(nil, "")
	c.usageCollector = func(ctx context.Context, d time.Duration, perCPU bool) ([]float64, error) {
		return nil, errors.New("no cpu")
	}
	c.memCollector = func(ctx context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 50}, nil
	}

	values, err := c.Collect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, map[string]float64{MetricRAMUsage: 50}, values)
}

func TestSymbolSet_LoadAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	set, err := LoadSymbolSet(path, []string{"aapl", " AAPL ", "msft"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, set.List())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "loading does not create the file")

	added, err := set.Add("goog")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = set.Add("GOOG")
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := set.Remove("msft")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, set.Contains("goog"))

	reloaded, err := LoadSymbolSet(path, []string{"IGNORED"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG"}, reloaded.List(), "state file wins over the initial list")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSymbolSet_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols: [unclosed"), 0o600))

	_, err := LoadSymbolSet(path, nil)
	assert.Error(t, err)
}

func setupTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	ring, err := keyring.Open(keyring.Config{
		ServiceName:     "device-metrics-test",
		AllowedBackends: []keyring.BackendType{keyring.FileBackend},
		FileDir:         t.TempDir(),
		FilePasswordFunc: func(prompt string) (string, error) {
			return "test-password-123", nil
		},
	})
	require.NoError(t, err)
	return NewKeyStore(ring)
}

func TestKeyStore_QuoteAPIKey(t *testing.T) {
	ks := setupTestKeyStore(t)

	key, err := ks.QuoteAPIKey()
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, ks.SetQuoteAPIKey("abc123"))

	key, err = ks.QuoteAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)
}
