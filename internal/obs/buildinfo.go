package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "PlantGate build information.",
		},
		[]string{"version", "commit", "catalog"},
	)
)

// InitBuildInfo registers build_info once and sets the running version labels.
func InitBuildInfo(version, commit, catalogVersion string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, catalogVersion).Set(1)
}
