// Package version хранит сведения о сборке, заданные через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Заполняются при сборке:
//
//	-ldflags "-X github.com/vladislavdragonenkov/fulfillment/internal/version.version=v1.2.0 ..."
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// BuildInfo описывает собранный бинарник.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Get возвращает сведения о сборке. Если commit и date не заданы через -ldflags,
// они берутся из VCS-меток, которые go build встраивает сам.
func Get() BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, Date: date}
	if info.Commit == "" || info.Date == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch {
				case s.Key == "vcs.revision" && info.Commit == "":
					info.Commit = s.Value
				case s.Key == "vcs.time" && info.Date == "":
					info.Date = s.Value
				}
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// LogFields поля для стартовой записи лога.
func (b BuildInfo) LogFields() log.Fields {
	return log.Fields{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
	}
}
