package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Metric names understood by the server
const (
	MetricCPUUsage     = "cpu_usage"
	MetricRAMUsage     = "ram_usage"
	MetricDiskUsage    = "disk_usage"
	MetricNetBytesSent = "net_bytes_sent"
	MetricNetBytesRecv = "net_bytes_recv"
)

// MetricSource produces one batch of metric values
type MetricSource interface {
	Collect(ctx context.Context) (map[string]float64, error)
}

// Collector samples local host metrics with gopsutil
type Collector struct {
	enabled        []string
	diskPath       string
	sampleInterval time.Duration

	usageCollector func(context.Context, time.Duration, bool) ([]float64, error)
	memCollector   func(context.Context) (*mem.VirtualMemoryStat, error)
	diskCollector  func(context.Context, string) (*disk.UsageStat, error)
	netCollector   func(context.Context, bool) ([]psnet.IOCountersStat, error)
}

// NewCollector creates a collector for the enabled metric names
func NewCollector(enabled []string, diskPath string) *Collector {
	if len(enabled) == 0 {
		enabled = []string{MetricCPUUsage, MetricRAMUsage}
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{
		enabled:        enabled,
		diskPath:       diskPath,
		sampleInterval: time.Second,
		usageCollector: cpu.PercentWithContext,
		memCollector:   mem.VirtualMemoryWithContext,
		diskCollector:  disk.UsageWithContext,
		netCollector:   psnet.IOCountersWithContext,
	}
}

// Collect samples every enabled metric. Metrics that fail are left out and
// reported in the returned error; the error is non-nil with a non-empty map
// when only some metrics failed.
func (c *Collector) Collect(ctx context.Context) (map[string]float64, error) {
	values := make(map[string]float64, len(c.enabled))
	var errs []error

	var netStats *psnet.IOCountersStat
	for _, name := range c.enabled {
		switch name {
		case MetricCPUUsage:
			pct, err := c.usageCollector(ctx, c.sampleInterval, false)
			if err != nil || len(pct) == 0 {
				errs = append(errs, fmt.Errorf("cpu: %w", orEmpty(err)))
				continue
			}
			values[name] = pct[0]

		case MetricRAMUsage:
			vm, err := c.memCollector(ctx)
			if err != nil {
				errs = append(errs, fmt.Errorf("memory: %w", err))
				continue
			}
			values[name] = vm.UsedPercent

		case MetricDiskUsage:
			usage, err := c.diskCollector(ctx, c.diskPath)
			if err != nil {
				errs = append(errs, fmt.Errorf("disk %s: %w", c.diskPath, err))
				continue
			}
			values[name] = usage.UsedPercent

		case MetricNetBytesSent, MetricNetBytesRecv:
			if netStats == nil {
				counters, err := c.netCollector(ctx, false)
				if err != nil || len(counters) == 0 {
					errs = append(errs, fmt.Errorf("network: %w", orEmpty(err)))
					continue
				}
				netStats = &counters[0]
			}
			if name == MetricNetBytesSent {
				values[name] = float64(netStats.BytesSent)
			} else {
				values[name] = float64(netStats.BytesRecv)
			}

		default:
			errs = append(errs, fmt.Errorf("unknown metric %q", name))
		}
	}

	return values, errors.Join(errs...)
}

var errNoData = errors.New("no data returned")

func orEmpty(err error) error {
	if err != nil {
		return err
	}
	return errNoData
}
