package handlers

import (
	"net/http"
	"runtime"
	"sync"

	apperrors "github.com/3leaps/ramekin/internal/errors"
	"github.com/fulmenhq/gofulmen/crucible"
)

// VersionInfo is the /version response body.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetVersionInfo records build metadata reported by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

// VersionHandler reports build metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	info := versionInfo
	versionMu.RUnlock()

	info.GoVersion = runtime.Version()
	deps := crucible.GetVersion()
	info.Gofulmen = deps.Gofulmen
	info.Crucible = deps.Crucible

	apperrors.WriteJSON(w, http.StatusOK, info)
}
