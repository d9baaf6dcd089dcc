package workerfile

import (
	"os"
	"testing"
)

func TestWriteReadDeleteContent(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "myjob", PID)
	if f.Exists() {
		t.Fatalf("new file should not exist yet")
	}
	if err := f.WriteContent("hello"); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	got, ok := f.ReadContent()
	if !ok || got != "hello" {
		t.Fatalf("ReadContent = %q, %v; want \"hello\", true", got, ok)
	}
	if err := f.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.Exists() {
		t.Fatalf("file should be gone after Delete")
	}
	// Delete is idempotent.
	if err := f.Delete(); err != nil {
		t.Fatalf("second Delete should be a no-op, got: %v", err)
	}
}

func TestReadContentMissingFile(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "absent", JobSpec)
	if _, ok := f.ReadContent(); ok {
		t.Fatalf("expected ok=false for missing file")
	}
}

func TestPIDFileCreateAndRead(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir, "worker1")
	if err := p.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	pid, ok := p.PID()
	if !ok || pid != os.Getpid() {
		t.Fatalf("PID() = %d, %v; want %d, true", pid, ok, os.Getpid())
	}
}

func TestPIDTruncatedFileIsUnusable(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir, "worker1")
	if err := p.WriteContent("not-a-pid"); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	if _, ok := p.PID(); ok {
		t.Fatalf("expected ok=false for truncated/garbage PID content")
	}
}

func TestExistsWithAliveProcessSelfHeals(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir, "dead")
	// A PID that is certain not to be alive (max realistic pid + wraparound
	// guard), so ExistsWithAliveProcess must delete the stale file.
	if err := p.WriteContent("999999999"); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	if p.ExistsWithAliveProcess() {
		t.Fatalf("expected stale PID file to be reported not-alive")
	}
	if p.Exists() {
		t.Fatalf("stale PID file should have been deleted by self-heal")
	}
}

func TestExistsWithAliveProcessForLiveProcess(t *testing.T) {
	dir := t.TempDir()
	p := NewPIDFile(dir, "self")
	if err := p.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !p.ExistsWithAliveProcess() {
		t.Fatalf("expected own PID to be reported alive")
	}
	if !p.Exists() {
		t.Fatalf("live PID file must not be deleted")
	}
}

func TestByPIDFindsMatchingFile(t *testing.T) {
	dir := t.TempDir()
	p1 := NewPIDFile(dir, "a")
	p2 := NewPIDFile(dir, "b")
	if err := p1.WriteContent("111"); err != nil {
		t.Fatalf("write p1: %v", err)
	}
	if err := p2.WriteContent("222"); err != nil {
		t.Fatalf("write p2: %v", err)
	}
	found, ok := ByPID(dir, 222)
	if !ok || found.Name() != "b" {
		t.Fatalf("ByPID(222) = %v, %v; want name b, true", found, ok)
	}
	if _, ok := ByPID(dir, 333); ok {
		t.Fatalf("ByPID(333) should not find anything")
	}
}

func TestJobSpecSiblingAndResume(t *testing.T) {
	dir := t.TempDir()
	pidFile := NewPIDFile(dir, "worker1")
	if err := pidFile.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	jsf := pidFile.JobSpecFileFor()
	if err := jsf.Create("SomeJob:a=1"); err != nil {
		t.Fatalf("Create jobspec: %v", err)
	}

	found, ok := ByPIDJobSpecFile(dir, os.Getpid())
	if !ok || found.Name() != "worker1" {
		t.Fatalf("ByPIDJobSpecFile = %v, %v; want name worker1, true", found, ok)
	}

	spec, ok := found.TakeForResume()
	if !ok || spec != "SomeJob:a=1" {
		t.Fatalf("TakeForResume = %q, %v; want \"SomeJob:a=1\", true", spec, ok)
	}
	if found.Exists() {
		t.Fatalf("TakeForResume must delete the file")
	}
}

func TestAllFiltersByKindAndPrefix(t *testing.T) {
	dir := t.TempDir()
	if err := New(dir, "job1", PID).WriteContent("1"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := New(dir, "job1", JobSpec).WriteContent("s"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := New(dir, "job2", PID).WriteContent("2"); err != nil {
		t.Fatalf("write: %v", err)
	}

	pids, err := All(dir, PID, "", nil, nil)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(pids) != 2 {
		t.Fatalf("expected 2 pid files, got %d", len(pids))
	}

	jobspecs, err := All(dir, JobSpec, "", nil, nil)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(jobspecs) != 1 {
		t.Fatalf("expected 1 jobspec file, got %d", len(jobspecs))
	}
}

func TestBaseNameStableForSameParams(t *testing.T) {
	a := BaseName("Job", []string{"x"}, map[string]string{"b": "2", "a": "1"}, false)
	b := BaseName("Job", []string{"x"}, map[string]string{"a": "1", "b": "2"}, false)
	if a != b {
		t.Fatalf("BaseName must be stable regardless of map iteration order: %q vs %q", a, b)
	}
	if a == "Job" {
		t.Fatalf("BaseName with params should append a hash suffix")
	}
}

func TestBaseNameNoParamsIsBareName(t *testing.T) {
	if got := BaseName("Job", nil, nil, false); got != "Job" {
		t.Fatalf("BaseName with no params = %q; want \"Job\"", got)
	}
}

func TestBaseNameRandomVaries(t *testing.T) {
	a := BaseName("Job", nil, nil, true)
	b := BaseName("Job", nil, nil, true)
	if a == b {
		t.Fatalf("BaseName(random=true) should vary between calls")
	}
}
