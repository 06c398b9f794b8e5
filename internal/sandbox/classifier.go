// Package sandbox decides whether the process behind a client connection is
// running inside an application sandbox. Probe failures degrade to "not
// sandboxed", so such clients are assigned the default policy.
package sandbox

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	systemdCgroupPrefix = "1:name=systemd:"
	flatpakScopeMarker  = "flatpak-"
)

// Detector probes the control-group hierarchy of a PID for a flatpak scope.
type Detector struct {
	procRoot string
}

// Option configures a Detector.
type Option func(*Detector)

// WithProcRoot points the detector at an alternate proc filesystem root.
func WithProcRoot(root string) Option {
	return func(d *Detector) {
		d.procRoot = root
	}
}

// NewDetector creates a detector reading the real /proc by default.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{procRoot: "/proc"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsSandboxed reports whether the process' systemd control group names a
// flatpak scope. Any probe failure reports false.
func (d *Detector) IsSandboxed(pid int32) bool {
	if pid <= 0 {
		return false
	}

	path := filepath.Join(d.procRoot, strconv.Itoa(int(pid)), "cgroup")
	f, err := os.Open(path)
	if err != nil {
		log.Debug().
			Err(err).
			Int32("pid", pid).
			Msg("Cgroup probe failed, treating as not sandboxed")
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, systemdCgroupPrefix) {
			continue
		}
		if strings.Contains(line[len(systemdCgroupPrefix):], flatpakScopeMarker) {
			evt := log.Debug().Int32("pid", pid)
			if proc, err := process.NewProcess(pid); err == nil {
				if name, err := proc.Name(); err == nil {
					evt = evt.Str("process", name)
				}
			}
			evt.Msg("Client classified as sandboxed")
			return true
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug().
			Err(err).
			Int32("pid", pid).
			Msg("Cgroup read failed, treating as not sandboxed")
	}
	return false
}
