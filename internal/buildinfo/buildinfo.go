// Package buildinfo exposes version data stamped at link time via
// -ldflags "-X github.com/dmitrijs2005/contractvault/internal/buildinfo.Version=...".
package buildinfo

import (
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Version = "N/A"
	Date    = "N/A"
	Commit  = "N/A"
)

var (
	registerOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contractvault_build_info",
			Help: "contractvault build information.",
		},
		[]string{"version", "commit"},
	)
)

// PrintBuildData writes the build banner to w.
func PrintBuildData(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", Version)
	fmt.Fprintf(w, "Build date: %s\n", Date)
	fmt.Fprintf(w, "Build commit: %s\n", Commit)
}

// Register publishes contractvault_build_info{version,commit} 1 on reg.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(Version, Commit).Set(1)
}
