package onnx

import (
	"os"
	"runtime"
)

// nvidiaMarkers are paths whose presence indicates a usable NVIDIA GPU:
// nvidia-smi for discrete cards, device nodes for discrete and Jetson boards.
var nvidiaMarkers = []string{
	"/usr/bin/nvidia-smi",
	"/usr/local/bin/nvidia-smi",
	"/opt/nvidia/bin/nvidia-smi",
	"/dev/nvidia0",
	"/dev/nvhost-gpu",
	"/dev/nvgpu/igpu0",
	"/etc/nv_tegra_release",
}

// HasNvidiaGPU reports whether an NVIDIA GPU is likely available. It always
// returns false outside Linux.
func HasNvidiaGPU() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	for _, p := range nvidiaMarkers {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
