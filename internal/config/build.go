package config

import (
	"fmt"
	"log/slog"
)

// Stamped at release time, e.g.
//
//	go build -ldflags "-X fieldwatch/internal/config.version=v0.9.0 \
//	    -X fieldwatch/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X fieldwatch/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/...
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// productName prefixes the User-Agent sent to imagery and payment vendors.
const productName = "FieldWatch"

// NewBuildInfo reads the stamped release metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// Released reports whether the binary carries a stamped version.
func (b BuildInfo) Released() bool {
	return b.Version != "" && b.Version != "dev"
}

// UserAgent identifies this build to vendor APIs. Unreleased builds report
// "FieldWatch/dev"; a known commit is appended so vendor support can match
// a request to a deploy.
func (b BuildInfo) UserAgent() string {
	v := b.Version
	if v == "" {
		v = "dev"
	}
	if b.Commit == "" || b.Commit == "none" {
		return fmt.Sprintf("%s/%s", productName, v)
	}
	return fmt.Sprintf("%s/%s (+%s)", productName, v, b.Commit)
}

// LogValue groups the metadata under one key in startup logs.
func (b BuildInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", b.Version),
		slog.String("commit", b.Commit),
		slog.String("built", b.BuildTime),
	)
}
