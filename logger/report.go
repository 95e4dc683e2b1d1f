package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	components sync.Map // map[string]*componentStat
	channels   sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	v, _ := components.LoadOrStore(component, &componentStat{})
	atomic.AddInt64(&v.(*componentStat).warns, 1)
}

func recordError(component string) {
	v, _ := components.LoadOrStore(component, &componentStat{})
	atomic.AddInt64(&v.(*componentStat).errors, 1)
}

// RecordChannelMessage tracks message and byte throughput for a named
// channel so the periodic report can surface feed volume.
func RecordChannelMessage(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := 0.0
	if memStats != nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}

	diskMB := 0.0
	if diskStats != nil {
		diskMB = float64(diskStats.Used) / 1024 / 1024
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"cpu_percent": cpuPct,
		"memory_mb":   memMB,
		"disk_mb":     diskMB,
		"net_sent":    bytesSent,
		"net_recv":    bytesRecv,
	}

	var warns, errors int64
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		warns += atomic.LoadInt64(&cs.warns)
		errors += atomic.LoadInt64(&cs.errors)
		return true
	})
	fields["warns_total"] = warns
	fields["errors_total"] = errors

	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		fields[name+"_messages"] = atomic.LoadInt64(&cs.messages)
		fields[name+"_bytes"] = atomic.LoadInt64(&cs.bytes)
		return true
	})

	log.WithComponent("report").WithFields(fields).Info("periodic report")

	publishMetrics(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String("feed_cpu_percent"),
			Unit:       cwtypes.StandardUnitPercent,
			Value:      aws.Float64(cpuPct),
		},
		{
			MetricName: aws.String("feed_memory_mb"),
			Unit:       cwtypes.StandardUnitMegabytes,
			Value:      aws.Float64(memMB),
		},
	})
}
