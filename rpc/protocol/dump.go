package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
)

// Dumper writes the bytes of rejected messages to files for later inspection
type Dumper struct {
	conf common.DumpConf
}

// NewDumper creates a dumper, a disabled configuration makes Dump a no-op
func NewDumper(conf common.DumpConf) *Dumper {
	return &Dumper{conf: conf}
}

// Enabled reports whether dumps are written
func (d *Dumper) Enabled() bool {
	return d != nil && d.conf.Enabled
}

// Dump writes perr.Data to <dir>/<session start>-<remote>-<session>-<kind>.dat and returns the path
func (d *Dumper) Dump(kind string, perr *ProtocolError) (string, error) {
	if !d.Enabled() || perr == nil {
		return "", nil
	}

	dir := d.conf.Directory
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dump directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s-%s-%d-%s.dat",
		perr.SessionStartedAt.UTC().Format("20060102T150405.000000000"),
		sanitize(perr.RemoteAddr),
		perr.SessionID,
		kind,
	)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, perr.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write dump %s: %w", path, err)
	}
	return path, nil
}

// sanitize makes a remote address usable as part of a file name
func sanitize(addr string) string {
	if addr == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '\\', '[', ']', '@':
			return '_'
		}
		return r
	}, addr)
}
