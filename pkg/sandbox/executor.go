package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/forgelog"
	"github.com/forgecore/forgecore/pkg/hashing"
)

// Status mirrors executor/executor.go's ExecutionStatus enum, narrowed to
// the four terminal states an action run can reach.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusViolated  Status = "violated"
)

// Result is the outcome of running one action through the Executor:
// output, status, resource usage and any violations, mirroring
// executor.Result's {Output, Status, Metadata, Error, duration} shape
// but specialized to sandboxed command execution.
type Result struct {
	Status      Status
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	Snapshot    Snapshot
	Violations  []*Violation
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}

// Executor runs one action's command inside the sandbox its platform
// properties select, and reports the hermeticity/resource outcome (§4.5,
// §5: "the executor is the only component invoked per action; it selects
// the isolation backend through the Pool Registry").
type Executor struct {
	registry *Registry
	log      *forgelog.Logger
}

func NewExecutor(registry *Registry, log *forgelog.Logger) *Executor {
	return &Executor{registry: registry, log: log.With("component", "sandbox.Executor")}
}

// Run executes cmd/args inside the backend selected by spec.Pool. The
// working directory is pre-checked for I∩O=∅ compliance, the command
// runs under the backend's ResourceMonitor, and outputs are post-checked
// before the result is returned.
func (e *Executor) Run(ctx context.Context, spec *SandboxSpec, name string, args []string) (*Result, error) {
	backend, ok := e.registry.Get(spec.Pool)
	if !ok {
		return nil, ferr.New(ferr.KindConfig, "sandbox.Executor.Run", string(spec.Pool), nil).
			WithRemedy("register a Backend for this Pool before scheduling actions onto it")
	}

	if err := PreCheck(spec); err != nil {
		return nil, err
	}

	monitor, err := backend.NewMonitor(spec)
	if err != nil {
		return nil, err
	}
	if err := monitor.Start(); err != nil {
		return nil, err
	}

	result := &Result{StartTime: time.Now()}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = filterEnv(spec.EnvAllow)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var runErr error
	if startErr := cmd.Start(); startErr != nil {
		runErr = startErr
	} else {
		if addErr := monitor.AddProcess(cmd.Process.Pid); addErr != nil {
			e.log.Warn("resource monitor failed to adopt the action's process", map[string]interface{}{
				"action": spec.ActionID.Hex(), "pid": cmd.Process.Pid, "err": addErr.Error(),
			})
		}
		runErr = cmd.Wait()
	}
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()

	snap, _ := monitor.Snapshot()
	result.Snapshot = snap
	resourceViolations, stopErr := monitor.Stop()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = StatusTimeout
	case runErr != nil:
		result.Status = StatusFailed
		if exitErr, ok2 := runErr.(*exec.ExitError); ok2 {
			result.ExitCode = exitErr.ExitCode()
		}
	default:
		result.Status = StatusCompleted
	}

	for _, rv := range resourceViolations {
		result.Violations = append(result.Violations, &Violation{
			Type:     ViolationProcess,
			Metadata: map[string]string{"resource": string(rv.Type), "message": rv.Message},
		})
	}
	if len(resourceViolations) > 0 {
		result.Status = StatusViolated
	}
	if stopErr != nil {
		e.log.Warn("resource monitor stop reported an error", map[string]interface{}{
			"action": spec.ActionID.Hex(), "err": stopErr.Error(),
		})
	}

	if result.Status == StatusCompleted {
		postViolations, postErr := PostCheck(spec)
		if postErr != nil {
			return result, postErr
		}
		if len(postViolations) > 0 {
			result.Violations = append(result.Violations, postViolations...)
			result.Status = StatusViolated
		}
	}

	return result, nil
}

func filterEnv(allow []string) []string {
	if len(allow) == 0 {
		return nil
	}
	return allow
}

// OutputDigests hashes every declared output once the run has completed,
// handing the caller the content digests the action cache keys its entry
// on (pkg/actioncache.Entry.OutputDigests).
func OutputDigests(spec *SandboxSpec, readFile func(path string) ([]byte, error)) (map[string]hashing.Digest, error) {
	digests := make(map[string]hashing.Digest, len(spec.Outputs))
	for _, out := range spec.Outputs {
		data, err := readFile(out)
		if err != nil {
			return nil, ferr.New(ferr.KindIO, "sandbox.OutputDigests", out, err)
		}
		digests[out] = hashing.Sum(data)
	}
	return digests, nil
}
