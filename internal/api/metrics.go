package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMetrics сведения о процессе сервера для /api/stats
type ProcessMetrics struct {
	StartTime time.Time
}

// NewProcessMetrics фиксирует время старта
func NewProcessMetrics() *ProcessMetrics {
	return &ProcessMetrics{StartTime: time.Now()}
}

// GetUptime время работы сервера
func (pm *ProcessMetrics) GetUptime() string {
	uptime := time.Since(pm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// GetCPUUsage процент CPU процесса
func (pm *ProcessMetrics) GetCPUUsage() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	return proc.CPUPercent()
}

// GetRSS резидентная память процесса
func (pm *ProcessMetrics) GetRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// Snapshot сводка для ответа
func (pm *ProcessMetrics) Snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := map[string]interface{}{
		"uptime":      pm.GetUptime(),
		"heap_alloc":  humanize.IBytes(m.HeapAlloc),
		"num_gc":      m.NumGC,
		"goroutines":  runtime.NumGoroutine(),
		"server_time": time.Now().Unix(),
	}
	if cpu, err := pm.GetCPUUsage(); err == nil {
		out["cpu_percent"] = fmt.Sprintf("%.2f", cpu)
	}
	if rss, err := pm.GetRSS(); err == nil {
		out["rss"] = humanize.IBytes(rss)
	}
	return out
}
