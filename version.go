package main

import (
	"runtime/debug"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Set via -ldflags "-X main.buildVersion=... -X main.buildCommit=...".
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "schemaproxy_build_info",
		Help: "Always 1; labelled with the running build.",
	},
	[]string{"version", "commit"},
)

func init() {
	prometheus.MustRegister(buildInfo)
	buildInfo.WithLabelValues(versionString(), resolvedCommit(buildCommit, vcsRevision())).Set(1)
}

func versionString() string {
	return formatVersion(buildVersion, resolvedCommit(buildCommit, vcsRevision()))
}

// resolvedCommit prefers the ldflags commit and falls back to the revision
// recorded by the go tool.
func resolvedCommit(ldflagsCommit, vcs string) string {
	if shortCommit(ldflagsCommit) != "" {
		return ldflagsCommit
	}
	if vcs != "" {
		return vcs
	}
	return "unknown"
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func formatVersion(version, commit string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	if v != "dev" {
		return v
	}

	if c := shortCommit(commit); c != "" {
		return "dev-" + c
	}
	return "dev"
}

func shortCommit(commit string) string {
	c := strings.TrimSpace(commit)
	if c == "" || c == "unknown" {
		return ""
	}
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
