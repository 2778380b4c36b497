package pool

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/aalhour/poolkv/internal/vfs"
)

const (
	lockFileName     = "LOCK"
	metaFileName     = "POOL"
	checkpointPrefix = "CHECKPOINT-"
	tmpSuffix        = ".tmp"
)

// OwnerLockFileName is the owner lock for flavors whose store already
// holds LOCK itself.
const OwnerLockFileName = "POOL.LOCK"

// logFileRegex matches log file names like "000001.log".
var logFileRegex = regexp.MustCompile(`^(\d{6,})\.log$`)

// checkpointFileRegex matches names like "CHECKPOINT-0000000000000042".
var checkpointFileRegex = regexp.MustCompile(`^CHECKPOINT-(\d{16})$`)

func logFileName(number uint64) string {
	return fmt.Sprintf("%06d.log", number)
}

func checkpointFileName(seq uint64) string {
	return fmt.Sprintf("%s%016d", checkpointPrefix, seq)
}

// poolFiles is a classified listing of a pool directory.
type poolFiles struct {
	logs        []uint64
	checkpoints []uint64
	temps       []string
}

func listPoolFiles(fs vfs.FS, dir string) (poolFiles, error) {
	var pf poolFiles
	names, err := fs.ListDir(dir)
	if err != nil {
		return pf, err
	}
	for _, name := range names {
		if strings.HasSuffix(name, tmpSuffix) {
			pf.temps = append(pf.temps, name)
			continue
		}
		if m := logFileRegex.FindStringSubmatch(name); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				pf.logs = append(pf.logs, n)
			}
			continue
		}
		if m := checkpointFileRegex.FindStringSubmatch(name); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				pf.checkpoints = append(pf.checkpoints, n)
			}
		}
	}
	slices.Sort(pf.logs)
	slices.Sort(pf.checkpoints)
	return pf, nil
}

func (p *Pool) path(name string) string {
	return filepath.Join(p.opts.Dir, name)
}
