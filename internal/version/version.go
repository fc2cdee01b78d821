// Package version exposes the build identity stamped into the binary.
package version

import "fmt"

// Overridden at build time via -ldflags; the defaults identify an untagged
// development build.
var (
	Name      = "Gamebar"
	Version   = "0.3.0"
	BuildTime = ""
	GitCommit = ""
)

// Info is the resolved build identity.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// GetInfo collects the stamped values into one Info.
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

// String renders one banner line, e.g. "Gamebar v0.3.0 (abc1234)".
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += fmt.Sprintf(" built %s", i.BuildTime)
	}
	return s
}
