// Package workerfile implements the two sibling on-disk files a running
// worker is tracked by (spec.md §3 "PID file", "JobSpec file", §9 "Cyclic
// references"): a PID file recording the OS process id, and a JobSpec file
// recording the job spec string needed to resume that job if the worker
// dies uncleanly. The files share a base name; neither points at the
// other, they are just named alike in the same directory.
//
// Grounded on internal/process/pidfile.go's read-side shape and the
// original worker_file.py's BaseCronWorkerFile/CronWorkerPIDFile/
// CronWorkerJobSpecFile hierarchy for the write/lookup/resume semantics.
package workerfile

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/cronman/internal/procmgr"
)

// Kind selects which sibling file a File addresses.
type Kind int

const (
	PID Kind = iota
	JobSpec
)

func (k Kind) ext() string {
	if k == PID {
		return ".pid"
	}
	return ".jobspec"
}

// File is a handle to one on-disk stats file: dataDir/name+ext.
type File struct {
	dataDir string
	name    string
	kind    Kind
}

// New returns a handle for an existing or not-yet-created file.
func New(dataDir, name string, kind Kind) *File {
	return &File{dataDir: dataDir, name: name, kind: kind}
}

func (f *File) Path() string { return filepath.Join(f.dataDir, f.name+f.kind.ext()) }
func (f *File) Name() string { return f.name }

// BaseName computes the stem a PID/JobSpec file pair is named with: the job
// class name, plus (when the lock regime keys on params) a short hash of
// the positional/keyword arguments, plus (when random is true, for
// LockNone) a random suffix so concurrent unlocked runs never collide.
//
// Mirrors BaseCronWorkerFile.get_file_name's "_".join([name, paramsHash,
// randomHash]) construction; the hash is truncated to 10 hex chars exactly
// as the original truncates its md5 hexdigest.
func BaseName(name string, args []string, kwargs map[string]string, random bool) string {
	parts := []string{name}
	if len(args) > 0 || len(kwargs) > 0 {
		parts = append(parts, hashParams(args, kwargs))
	}
	if random {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err == nil {
			parts = append(parts, hashBytes(buf))
		}
	}
	return strings.Join(parts, "_")
}

func hashParams(args []string, kwargs map[string]string) string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(strings.Join(args, ","))
	b.WriteString(";")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=%s", k, kwargs[k])
	}
	b.WriteString(")")
	return hashBytes([]byte(b.String()))
}

func hashBytes(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec // content addressing, not a security boundary
	return hex.EncodeToString(sum[:])[:10]
}

// WriteContent replaces the file's contents in place (open with truncate,
// write, fsync), mirroring write_content's open/write/flush/fsync
// sequence. It is not atomic: a concurrent reader can see an empty or
// partly written file between the truncate and the write, which PID and
// JobSpecString report as "no value".
func (f *File) WriteContent(content string) error {
	if err := os.MkdirAll(f.dataDir, 0o750); err != nil {
		return err
	}
	fh, err := os.OpenFile(f.Path(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer fh.Close()
	if _, err := fh.WriteString(content); err != nil {
		return err
	}
	if err := fh.Sync(); err != nil {
		return err
	}
	return nil
}

// ReadContent reads the file's contents. ok is false when the file does
// not exist (already deleted) — any other read error is also reported as
// !ok, matching read_content's blanket "return None on IOError".
func (f *File) ReadContent() (content string, ok bool) {
	b, err := os.ReadFile(f.Path())
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Delete removes the file, ignoring "already gone".
func (f *File) Delete() error {
	err := os.Remove(f.Path())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *File) Exists() bool {
	_, err := os.Stat(f.Path())
	return err == nil
}

// All enumerates files of the given kind under dataDir, optionally
// restricted to those whose base name starts with BaseName(name, args,
// kwargs, false) — the prefix used when name is non-empty, matching
// BaseCronWorkerFile.all's startswith filter.
func All(dataDir string, kind Kind, name string, args []string, kwargs map[string]string) ([]*File, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}
	var prefix string
	if name != "" {
		prefix = BaseName(name, args, kwargs, false)
	}
	var out []*File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fname := e.Name()
		ext := filepath.Ext(fname)
		if ext != kind.ext() {
			continue
		}
		base := strings.TrimSuffix(fname, ext)
		if prefix != "" && !strings.HasPrefix(base, prefix) {
			continue
		}
		out = append(out, &File{dataDir: dataDir, name: base, kind: kind})
	}
	return out, nil
}

// PIDFile is a File specialized for reading/writing the owning process id.
type PIDFile struct{ *File }

func NewPIDFile(dataDir, name string) *PIDFile {
	return &PIDFile{File: New(dataDir, name, PID)}
}

// Create writes the current process's PID into the file.
func (p *PIDFile) Create() error {
	return p.WriteContent(strconv.Itoa(os.Getpid()))
}

// PID reads and parses the stored PID. ok is false if the file is absent,
// empty, or truncated to something unparsable — all three collapse to
// "no usable PID", mirroring the original's (ValueError, TypeError) catch.
func (p *PIDFile) PID() (pid int, ok bool) {
	content, exists := p.ReadContent()
	if !exists {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExistsWithAliveProcess checks the file exists and its PID's process is
// alive, self-healing by deleting the file when the PID is unusable or the
// process is confirmed dead (spec.md's "self-healing locks"). It never
// self-heals on a merely unknown liveness result (the OS denied access to
// probe the PID): mirroring exists_with_alive_process's `self.process.alive()
// is False` identity check against Python's tri-state None/True/False, a
// permission-denied probe must be treated as "still locked", not "free" —
// otherwise a transient EPERM (e.g. a uid change) could let a second worker
// start under the same lock name.
func (p *PIDFile) ExistsWithAliveProcess() bool {
	if !p.Exists() {
		return false
	}
	pid, ok := p.PID()
	if !ok {
		_ = p.Delete()
		return false
	}
	alive, known := procmgr.FromInt(pid).AliveKnown()
	if !known {
		return true
	}
	if !alive {
		_ = p.Delete()
		return false
	}
	return true
}

// ByPID searches dataDir for the PID file whose stored PID equals pid.
func ByPID(dataDir string, pid int) (*PIDFile, bool) {
	files, err := All(dataDir, PID, "", nil, nil)
	if err != nil {
		return nil, false
	}
	for _, f := range files {
		pf := &PIDFile{File: f}
		if got, ok := pf.PID(); ok && got == pid {
			return pf, true
		}
	}
	return nil, false
}

// JobSpecFileFor returns the JobSpec sibling of this PID file (same name,
// same directory, ".jobspec" extension).
func (p *PIDFile) JobSpecFileFor() *JobSpecFile {
	return NewJobSpecFile(p.dataDir, p.name)
}

// JobSpecFile is a File specialized for the resume-on-crash job spec text.
type JobSpecFile struct{ *File }

func NewJobSpecFile(dataDir, name string) *JobSpecFile {
	return &JobSpecFile{File: New(dataDir, name, JobSpec)}
}

// Create writes the job spec string that would reconstruct this run.
func (j *JobSpecFile) Create(jobSpec string) error {
	return j.WriteContent(jobSpec)
}

// JobSpecString reads the stored job spec, if any.
func (j *JobSpecFile) JobSpecString() (jobSpec string, ok bool) {
	content, exists := j.ReadContent()
	if !exists || content == "" {
		return "", false
	}
	return content, true
}

// ByPIDJobSpecFile finds the JobSpec sibling of the PID file owned by pid,
// if both that PID file and a JobSpec file with the same name exist.
func ByPIDJobSpecFile(dataDir string, pid int) (*JobSpecFile, bool) {
	pidFile, ok := ByPID(dataDir, pid)
	if !ok {
		return nil, false
	}
	jsf := pidFile.JobSpecFileFor()
	if !jsf.Exists() {
		return nil, false
	}
	return jsf, true
}

// TakeForResume reads this JobSpec file's content and deletes the file —
// the caller (internal/fleet's Resume) is responsible for actually relaunching
// the job, exactly as the original resume() deletes before respawning so
// a crash mid-relaunch cannot resume the same job twice.
func (j *JobSpecFile) TakeForResume() (jobSpec string, ok bool) {
	jobSpec, ok = j.JobSpecString()
	_ = j.Delete()
	return jobSpec, ok
}
