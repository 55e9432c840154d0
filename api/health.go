package api

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type HealthReport struct {
	Status       string   `json:"status"`
	ActiveTasks  int      `json:"active_tasks"`
	CPUPercent   float64  `json:"cpu_percent"`
	MemAvailable uint64   `json:"mem_available"`
	DiskFree     uint64   `json:"disk_free"`
	Warnings     []string `json:"warnings,omitempty"`
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.checkResources())
}

// checkResources reports host headroom for new downloads. Thresholds only
// mark the service degraded; submissions are never refused.
func (h *Handler) checkResources() HealthReport {
	report := HealthReport{Status: "ok", ActiveTasks: h.taskManager.Active()}

	// CPU, measured since the previous call
	p, err := cpu.Percent(0, false)
	if err != nil {
		log.Printf("Warning: could not get CPU usage: %v", err)
	} else if len(p) > 0 {
		report.CPUPercent = p[0]
		if h.cfg.HealthCPU > 0 && p[0] > 100.0-h.cfg.HealthCPU {
			report.Warnings = append(report.Warnings, fmt.Sprintf("not enough idle CPU: usage %.2f%%", p[0]))
		}
	}

	// Memory
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("Warning: could not get memory usage: %v", err)
	} else {
		report.MemAvailable = vm.Available
		if vm.Available < uint64(h.cfg.HealthFreeMem) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("not enough free memory: %d available", vm.Available))
		}
	}

	// Disk holding the work directories
	root := h.cfg.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	d, err := disk.Usage(root)
	if err != nil {
		log.Printf("Warning: could not get disk usage for %s: %v", root, err)
	} else {
		report.DiskFree = d.Free
		if d.Free < uint64(h.cfg.HealthFreeDisk) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("not enough free disk space: %d available", d.Free))
		}
	}

	if len(report.Warnings) > 0 {
		report.Status = "degraded"
	}
	return report
}
