package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/lib/logger"
)

// Reaper supplies the operations opportunistic, threshold-triggered GC needs
// for one ID-file directory. It deliberately has no RemoveOverlay method:
// the batch pass always behaves as if every instance were resume=true, so
// it never deletes VM overlay images — only the ID files and guest-bridge
// sockets of dead instances. Preserves the asymmetry documented in
// firecracker-pilot/src/firecracker.rs::gc versus gc_meta_files(resume=true).
type Reaper interface {
	// Probe reports whether the instance named by idValue is still alive.
	Probe(ctx context.Context, idValue string) bool
	// SocketPath returns the guest-bridge socket path for an identity
	// (derived from the ID file's base name), or "" if this engine has none.
	SocketPath(identity string) string
}

// MaybeGC scans idDir for files named "*.ext" and, if the count exceeds
// flakedefaults.GCThreshold, reaps every one whose referenced instance is
// no longer alive: removes the ID file and, if Reaper.SocketPath returns a
// path, the proxy socket. It does not delete overlay images (see Reaper
// doc).
func MaybeGC(ctx context.Context, idDir string, ext string, reaper Reaper) error {
	entries, err := os.ReadDir(idDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		candidates = append(candidates, e.Name())
	}
	if len(candidates) <= flakedefaults.GCThreshold {
		return nil
	}

	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "gc", "msg", "id directory over threshold, reaping dead instances",
		"dir", idDir, "count", len(candidates), "threshold", flakedefaults.GCThreshold)

	for _, name := range candidates {
		path := filepath.Join(idDir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		idValue := strings.TrimSpace(string(raw))
		if idValue == "0" || reaper.Probe(ctx, idValue) {
			continue
		}
		identity := strings.TrimSuffix(name, ext)
		if err := os.Remove(path); err != nil {
			log.WarnContext(ctx, "gc", "msg", "failed to remove dead id file", "path", path, "err", err)
			continue
		}
		if sock := reaper.SocketPath(identity); sock != "" {
			_ = os.Remove(sock)
		}
		log.InfoContext(ctx, "gc", "msg", "reaped dead instance", "identity", identity)
	}
	return nil
}
