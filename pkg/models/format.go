package models

import "fmt"

const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

// FormatCPU renders millicores in kubectl notation, e.g. "500m" or "2".
func FormatCPU(millis int64) string {
	if millis%1000 == 0 {
		return fmt.Sprintf("%d", millis/1000)
	}
	return fmt.Sprintf("%dm", millis)
}

// FormatMemory renders bytes in binary units, e.g. "512Mi" or "2Gi".
func FormatMemory(bytes int64) string {
	switch {
	case bytes >= GiB && bytes%GiB == 0:
		return fmt.Sprintf("%dGi", bytes/GiB)
	case bytes >= MiB && bytes%MiB == 0:
		return fmt.Sprintf("%dMi", bytes/MiB)
	case bytes >= MiB:
		return fmt.Sprintf("%.1fMi", float64(bytes)/float64(MiB))
	default:
		return fmt.Sprintf("%dKi", bytes/KiB)
	}
}
