package provision

import (
	"math"

	"github.com/oar-cd/moor/domain"
)

const (
	bytesInMB = 1024 * 1024
	// coresPerServer is the capacity assumed when no server facts are known
	coresPerServer = 4
)

// RequirementsInput describes the workload. Zero values take the defaults.
type RequirementsInput struct {
	Services        int     `json:"services"`
	Replicas        int     `json:"replicas,omitempty"`
	AverageCPUCores float64 `json:"averageCpuCores,omitempty"`
	AverageMemoryMB float64 `json:"averageMemoryMb,omitempty"`
	AverageDiskGB   float64 `json:"averageDiskGb,omitempty"`
	// OverheadPercent is a fraction: 0.2 means 20%. Nil means the default.
	OverheadPercent *float64 `json:"overheadPercent,omitempty"`
}

type RequirementsEstimate struct {
	RequiredCPUCores   float64  `json:"requiredCpuCores"`
	RequiredMemoryMB   int64    `json:"requiredMemoryMb"`
	RequiredDiskGB     int64    `json:"requiredDiskGb"`
	RecommendedServers int      `json:"recommendedServers"`
	FitsCurrentServer  *bool    `json:"fitsCurrentServer,omitempty"`
	HeadroomPercent    *float64 `json:"headroomPercent,omitempty"`
	Notes              []string `json:"notes"`
}

func withDefault(v, def, floor float64) float64 {
	if v == 0 {
		v = def
	}
	return math.Max(floor, v)
}

func round(v float64, precision int) float64 {
	f := math.Pow(10, float64(precision))
	return math.Round(v*f) / f
}

// ceil ignores float noise below the sixth decimal
func ceil(v float64) int64 {
	return int64(math.Ceil(round(v, 6)))
}

// EstimateRequirements sizes a workload and, when server facts are given, checks whether it fits
func EstimateRequirements(in RequirementsInput, info *domain.ServerInfo) RequirementsEstimate {
	services := max(1, in.Services)
	replicas := max(1, in.Replicas)
	overhead := 0.2
	if in.OverheadPercent != nil {
		overhead = math.Max(0, *in.OverheadPercent)
	}
	avgCPU := withDefault(in.AverageCPUCores, 0.5, 0.1)
	avgMem := withDefault(in.AverageMemoryMB, 512, 64)
	avgDisk := withDefault(in.AverageDiskGB, 10, 1)

	units := float64(services * replicas)
	est := RequirementsEstimate{
		RequiredCPUCores: round(units*avgCPU*(1+overhead), 2),
		RequiredMemoryMB: ceil(units * avgMem * (1 + overhead)),
		RequiredDiskGB:   ceil(units * avgDisk * (1 + overhead)),
		Notes:            []string{},
	}

	if info == nil {
		est.RecommendedServers = max(1, int(ceil(units*avgCPU/coresPerServer)))
		est.Notes = append(est.Notes,
			"Server info not provided; recommendations use default capacity (4 cores/server).")
		return est
	}

	est.RecommendedServers = 1
	cores := float64(info.CPUCores)
	memMB := float64(info.AvailableMemory) / bytesInMB
	if cores <= 0 || memMB <= 0 {
		est.Notes = append(est.Notes, "Server info is missing CPU or memory details; fit check skipped.")
	} else {
		reqMem := float64(est.RequiredMemoryMB)
		cpuHead := cores - est.RequiredCPUCores
		memHead := memMB - reqMem

		fits := cpuHead >= 0 && memHead >= 0
		headroom := round(math.Min(cpuHead/math.Max(est.RequiredCPUCores, 1), memHead/math.Max(reqMem, 1))*100, 2)
		est.FitsCurrentServer = &fits
		est.HeadroomPercent = &headroom
		est.RecommendedServers = int(max(
			ceil(est.RequiredCPUCores/math.Max(cores, 0.1)),
			ceil(reqMem/math.Max(memMB, 1)),
		))
	}

	if !info.DockerInstalled {
		est.Notes = append(est.Notes, "Docker is not installed; install before scheduling workloads.")
	}
	return est
}
