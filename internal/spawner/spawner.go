// Package spawner launches detached worker subprocesses for a job spec
// (spec.md §4.C "Spawner"). Grounded on the original CronSpawner.start_worker
// for argv construction, environment propagation, and the Out-Of-Memory
// retry dance, with subprocess plumbing adapted from
// internal/process/process.go's ConfigureCmd (Setpgid so the worker
// survives the scheduler exiting, stdio redirected off the parent's own
// descriptors).
package spawner

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	cronenv "github.com/loykin/cronman/internal/env"
	"github.com/loykin/cronman/internal/jobspec"
	"github.com/loykin/cronman/internal/logger"
	"github.com/loykin/cronman/internal/registry"
)

// waitForMemory is how long Start sleeps before retrying once after the
// first ENOMEM from the OS, matching CronSpawner.wait_for_memory.
const waitForMemory = 7 * time.Second

// Env carries the ambient configuration every worker subprocess needs
// duplicated into its environment so scheduler and worker agree on data
// directory, priority wrapper commands, and monitoring toggles
// (get_worker_env).
type Env struct {
	DataDir          string
	NiceCmd          string
	IOniceCmd        string
	CronitorURL      string
	CronitorEnabled  bool
	SlackEnabled     bool
	ExceptionSinkCmd string // raven-cmd equivalent: wraps argv in an exception-reporting shell
	Extra            map[string]string

	// GlobalEnv is config.Config.GlobalEnv: OS/env-file/explicit vars
	// computed once at startup, merged in below the CRON_* overrides.
	GlobalEnv []string

	// Log configures rotated stdout/stderr capture for worker subprocesses.
	// Nil means /dev/null, matching the original's default of discarding
	// worker output.
	Log *logger.Config
}

// Spawner starts worker processes for job specs. One Spawner is reused
// across many Start calls; memoryErrorOccurred makes every later Start
// skip the retry-sleep once a retry has already failed with ENOMEM, so a
// wedged host does not make the scheduler loop fall further and further
// behind.
type Spawner struct {
	binary           string // os.Executable() result, this binary re-invoked as "worker run <jobspec>"
	env              Env
	memoryErrorOccurred bool
	logger           *slog.Logger
}

// New returns a Spawner that re-execs binary with "worker run <jobSpec>"
// for each job it starts.
func New(binary string, env Env, logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Spawner{binary: binary, env: env, logger: logger}
}

// buildEnviron returns the child process's full environment: an OS snapshot,
// then config.GlobalEnv, then the cron-specific CRON_*/CRONITOR_*/SLACK_*
// overrides and any Extra in the Spawner's Env — each layer wins over the
// last. Extra is fixed when the Spawner is built; Start adds nothing per
// call, so a resumed worker (Fleet.Resume) gets the same environment as a
// fresh one and CRON_PROCESS_RESUMED is set only if Extra carries it.
func (s *Spawner) buildEnviron() []string {
	layers := append([]string{}, s.env.GlobalEnv...)
	layers = append(layers,
		"CRON_DATA_DIR="+s.env.DataDir,
		"CRON_NICE_CMD="+s.env.NiceCmd,
		"CRON_IONICE_CMD="+s.env.IOniceCmd,
		"CRONITOR_URL="+s.env.CronitorURL,
		"CRONITOR_ENABLED="+boolEnv(s.env.CronitorEnabled),
		"SLACK_ENABLED="+boolEnv(s.env.SlackEnabled),
	)
	for k, v := range s.env.Extra {
		layers = append(layers, k+"="+v)
	}
	return cronenv.New().Merge(layers)
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// priorityArgs returns the nice/ionice argv prefix for a job class, empty
// when the registry entry declares no priority or the corresponding
// wrapper command is not configured — mirrors get_process_priority_args.
func (s *Spawner) priorityArgs(entry registry.Entry) []string {
	var args []string
	if s.env.NiceCmd != "" && entry.WorkerCPUPriority != nil {
		args = append(args, s.env.NiceCmd, "-n", strconv.Itoa(*entry.WorkerCPUPriority))
	}
	if s.env.IOniceCmd != "" && entry.WorkerIOPriority != nil {
		args = append(args, s.env.IOniceCmd, "-c", strconv.Itoa(entry.WorkerIOPriority.Class))
		if entry.WorkerIOPriority.Data != nil {
			args = append(args, "-n", strconv.Itoa(*entry.WorkerIOPriority.Data))
		}
	}
	return args
}

// buildArgv constructs the argv for the worker subprocess: priority prefix,
// then "<binary> worker run <jobSpec>", then (if configured) the whole
// thing wrapped by the exception-sink command the way raven-cmd wraps the
// original's worker invocation.
func (s *Spawner) buildArgv(jobSpec string, entry registry.Entry) (name string, args []string) {
	worker := []string{s.binary, "worker", "run", jobSpec}
	prefixed := append(s.priorityArgs(entry), worker...)
	if s.env.ExceptionSinkCmd == "" {
		return prefixed[0], prefixed[1:]
	}
	return s.env.ExceptionSinkCmd, []string{"-c", joinShellWords(prefixed)}
}

func joinShellWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += shellQuote(w)
	}
	return out
}

// shellQuote double-quotes a word containing a space or tab; quote
// characters already in the word are left as they are.
func shellQuote(w string) string {
	needsQuote := false
	for _, r := range w {
		if r == ' ' || r == '\t' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return w
	}
	return `"` + w + `"`
}

// Start launches a worker subprocess for jobSpec under the job class entry.
// On ENOMEM it sleeps waitForMemory and retries exactly once; a second
// ENOMEM within the same Spawner's lifetime is logged and returned without
// any further sleep, and sets memoryErrorOccurred so later calls skip
// straight to the no-retry path.
func (s *Spawner) Start(jobSpecStr string, entry registry.Entry) (pid int, err error) {
	name, args := s.buildArgv(jobSpecStr, entry)
	logName := entry.LockName()
	if logName == "" {
		if spec, perr := jobspec.Parse(jobSpecStr); perr == nil {
			logName = spec.Name
		}
	}
	tries := 2
	if s.memoryErrorOccurred {
		tries = 1
	}
	for tries > 0 {
		tries--
		pid, err = s.spawn(name, args, logName)
		if err == nil {
			return pid, nil
		}
		if !errors.Is(err, syscall.ENOMEM) {
			return 0, err
		}
		if tries > 0 {
			s.logger.Debug("worker spawn out of memory, retrying",
				"job_spec", jobSpecStr, "wait_seconds", waitForMemory.Seconds())
			time.Sleep(waitForMemory)
			continue
		}
		s.memoryErrorOccurred = true
		s.logger.Warn("worker spawn out of memory, giving up", "job_spec", jobSpecStr)
		return 0, err
	}
	return 0, err
}

// spawn runs one subprocess attempt: detached (own process group so it
// outlives the scheduler), stdout/stderr captured per logName when Log is
// configured, otherwise discarded to /dev/null, non-blocking.
func (s *Spawner) spawn(name string, args []string, logName string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = s.buildEnviron()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, stderr, usingDevNull, err := s.openCaptureWriters(logName)
	if err != nil {
		return 0, err
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	startErr := cmd.Start()
	if usingDevNull {
		// The child dup'd the descriptor already; ours is no longer needed
		// regardless of Start's outcome.
		_ = stdout.Close()
	}
	if startErr != nil {
		if !usingDevNull {
			_ = stdout.Close()
			_ = stderr.Close()
		}
		return 0, startErr
	}
	// The worker is meant to outlive this process; reap it in the
	// background so it never lingers as a zombie of ours, and close any
	// rotated log writers only once the copying goroutines exec started
	// for them are done.
	go func() {
		_ = cmd.Wait()
		if !usingDevNull {
			_ = stdout.Close()
			_ = stderr.Close()
		}
	}()
	return cmd.Process.Pid, nil
}

// openCaptureWriters returns the stdout/stderr destinations for a worker
// subprocess: rotated lumberjack writers when s.env.Log is set, else a
// shared /dev/null handle (usingDevNull=true signals the devNull-specific
// immediate-close discipline below).
func (s *Spawner) openCaptureWriters(logName string) (stdout, stderr io.WriteCloser, usingDevNull bool, err error) {
	if s.env.Log != nil {
		stdout, stderr, err = s.env.Log.Writers(logName)
		if err != nil {
			return nil, nil, false, err
		}
		if stdout != nil && stderr != nil {
			return stdout, stderr, false, nil
		}
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, false, err
	}
	return devNull, devNull, true, nil
}
