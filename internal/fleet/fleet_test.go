package fleet

import (
	"os"
	"testing"

	"github.com/loykin/cronman/internal/workerfile"
)

func TestStatusReportsAliveAndDead(t *testing.T) {
	dir := t.TempDir()
	alive := workerfile.NewPIDFile(dir, "alive_job")
	if err := alive.Create(); err != nil {
		t.Fatalf("create alive pidfile: %v", err)
	}
	dead := workerfile.NewPIDFile(dir, "dead_job")
	if err := dead.WriteContent("999999999"); err != nil {
		t.Fatalf("create dead pidfile: %v", err)
	}

	f := New(dir, nil, nil)
	items, totals, warnings := f.Status(Selector{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if totals["TOTAL"] != 2 || totals[string(PIDAlive)] != 1 || totals[string(PIDDead)] != 1 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	names := map[string]PIDStatus{}
	for _, it := range items {
		names[it.Name] = it.Status
	}
	if names["alive_job"] != PIDAlive {
		t.Fatalf("alive_job status = %v, want ALIVE", names["alive_job"])
	}
	if names["dead_job"] != PIDDead {
		t.Fatalf("dead_job status = %v, want DEAD", names["dead_job"])
	}
}

func TestCleanRemovesOnlyDeadPIDFiles(t *testing.T) {
	dir := t.TempDir()
	alive := workerfile.NewPIDFile(dir, "alive_job")
	_ = alive.Create()
	dead := workerfile.NewPIDFile(dir, "dead_job")
	_ = dead.WriteContent("999999999")

	f := New(dir, nil, nil)
	items, totals, _ := f.Clean(Selector{})
	if totals["TOTAL"] != 1 || len(items) != 1 || items[0].Name != "dead_job" {
		t.Fatalf("unexpected clean result: items=%+v totals=%+v", items, totals)
	}
	if dead.Exists() {
		t.Fatalf("dead pidfile should have been deleted")
	}
	if !alive.Exists() {
		t.Fatalf("alive pidfile must survive Clean")
	}
}

func TestStatusFindsOwnLivePID(t *testing.T) {
	dir := t.TempDir()
	// Use our own process as a stand-in for "alive"; we don't actually want
	// to Kill() it (that would end the test binary), so this test only
	// exercises the scan/selection path via Status, not Kill itself.
	self := workerfile.NewPIDFile(dir, "self_job")
	if err := self.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	f := New(dir, nil, nil)
	items, _, _ := f.Status(Selector{})
	if len(items) != 1 || items[0].PID != os.Getpid() {
		t.Fatalf("expected to find our own pid, got %+v", items)
	}
}

func TestCleanJobSpecsRemovesStalledOnly(t *testing.T) {
	dir := t.TempDir()
	// Stalled: JobSpec file with no PID sibling.
	stalled := workerfile.NewJobSpecFile(dir, "orphan_job")
	if err := stalled.Create("SomeJob:"); err != nil {
		t.Fatalf("create stalled jobspec: %v", err)
	}
	// Active: JobSpec file whose PID sibling is alive (our own process).
	pidFile := workerfile.NewPIDFile(dir, "active_job")
	_ = pidFile.Create()
	active := pidFile.JobSpecFileFor()
	if err := active.Create("OtherJob:"); err != nil {
		t.Fatalf("create active jobspec: %v", err)
	}

	f := New(dir, nil, nil)
	items, totals, _ := f.CleanJobSpecs(Selector{})
	if totals["TOTAL"] != 1 || len(items) != 1 || items[0].Name != "orphan_job" {
		t.Fatalf("unexpected result: items=%+v totals=%+v", items, totals)
	}
	if stalled.Exists() {
		t.Fatalf("stalled jobspec should have been deleted")
	}
	if !active.Exists() {
		t.Fatalf("active jobspec must survive CleanJobSpecs")
	}
}

func TestSelectorByPIDNarrowsToOneFile(t *testing.T) {
	dir := t.TempDir()
	a := workerfile.NewPIDFile(dir, "a")
	_ = a.WriteContent("111")
	b := workerfile.NewPIDFile(dir, "b")
	_ = b.WriteContent("222")

	f := New(dir, nil, nil)
	items, totals, _ := f.Status(Selector{PID: 222})
	if totals["TOTAL"] != 1 || len(items) != 1 || items[0].Name != "b" {
		t.Fatalf("unexpected selector-by-pid result: items=%+v totals=%+v", items, totals)
	}
}
