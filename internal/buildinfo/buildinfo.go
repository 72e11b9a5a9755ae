package buildinfo

import "time"

// Set via -ldflags at build time
var (
	BuildTime  string // when the binary was compiled
	CommitTime string // last git commit time (last code edit)
	CommitHash string // short git commit hash
)

// Version is the service version reported to peers
var Version = "1.0.0"

// ProtocolVersion is the peer API contract version
const ProtocolVersion = "1.0.0"

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// UserAgent identifies outbound peer calls
func UserAgent() string {
	return "StockSyncGo/" + Version
}
