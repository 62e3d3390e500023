package reapi

import (
	"context"
	"time"

	"github.com/forgecore/forgecore/pkg/cas"
	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/hashing"
	"github.com/forgecore/forgecore/pkg/sandbox"
)

// Service ties the REAPI surface together: it runs actions through a
// sandbox.Executor, uploads/downloads blobs through a cas.Store, and
// records results in a ResultCache, fulfilling §4.7's "submit an action
// to the execution endpoint and poll the long-running operation until
// completion or timeout".
type Service struct {
	executor *sandbox.Executor
	registry *sandbox.Registry
	blobs    *cas.Store
	results  *ResultCache
	ops      *OperationTracker
	workRoot string
}

func NewService(executor *sandbox.Executor, registry *sandbox.Registry, blobs *cas.Store, results *ResultCache, workRoot string) *Service {
	return &Service{
		executor: executor,
		registry: registry,
		blobs:    blobs,
		results:  results,
		ops:      NewOperationTracker(1000),
		workRoot: workRoot,
	}
}

// Execute submits req for execution: a cache hit on the action digest
// short-circuits straight to a completed Operation; otherwise it
// synthesizes the working directory from CAS, runs the sandboxed
// command, uploads outputs back to CAS, and records the result.
func (s *Service) Execute(ctx context.Context, req *ActionRequest, command string, args []string) (*Operation, error) {
	digest := Digest{Hash: req.ActionID.Hex()}
	name := "operations/" + digest.Hash

	if cached, err := s.results.Get(ctx, digest); err == nil {
		s.ops.Start(name)
		s.ops.Update(name, OperationCompleted, cached, "")
		return s.ops.Get(name), nil
	} else if !ferr.IsPromotableMiss(err) {
		return nil, err
	}

	op := s.ops.Start(name)
	s.ops.Update(name, OperationRunning, nil, "")

	go s.run(context.WithoutCancel(ctx), name, req, command, args)

	return op, nil
}

func (s *Service) run(ctx context.Context, name string, req *ActionRequest, command string, args []string) {
	workDir := s.workRoot + "/" + req.ActionID.Hex()

	spec, err := req.ToSandboxSpec(workDir)
	if err != nil {
		s.ops.Update(name, OperationFailed, nil, err.Error())
		return
	}
	if req.TimeoutMs > 0 {
		spec.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	if err := s.materializeInputs(ctx, spec); err != nil {
		s.ops.Update(name, OperationFailed, nil, err.Error())
		return
	}

	result, err := s.executor.Run(ctx, spec, command, args)
	if err != nil {
		s.ops.Update(name, OperationFailed, nil, err.Error())
		return
	}
	if result.Status == sandbox.StatusTimeout {
		s.ops.Update(name, OperationTimeout, nil, "action exceeded its deadline")
		return
	}

	actionResult, err := s.collectOutputs(ctx, req, result)
	if err != nil {
		s.ops.Update(name, OperationFailed, nil, err.Error())
		return
	}

	if err := s.results.Put(ctx, actionResult); err != nil {
		s.ops.Update(name, OperationFailed, actionResult, err.Error())
		return
	}
	s.ops.Update(name, OperationCompleted, actionResult, "")
}

func (s *Service) materializeInputs(ctx context.Context, spec *sandbox.SandboxSpec) error {
	for path, digest := range spec.Inputs {
		data, err := s.blobs.Get(ctx, digest)
		if err != nil {
			return err
		}
		if err := writeWorkFile(spec.WorkDir, path, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) collectOutputs(ctx context.Context, req *ActionRequest, result *sandbox.Result) (*ActionResult, error) {
	hashes := make(map[string]hashing.Digest, len(req.Outputs))
	for _, out := range req.Outputs {
		data, err := readWorkFile(s.workRoot+"/"+req.ActionID.Hex(), out.Path)
		if err != nil {
			continue // missing declared output was already reported as a sandbox.Violation
		}
		digest, err := s.blobs.Put(ctx, data)
		if err != nil {
			return nil, err
		}
		hashes[out.Path] = digest
	}

	stdout, err := s.blobs.Put(ctx, result.Stdout)
	if err != nil {
		return nil, err
	}
	stderr, err := s.blobs.Put(ctx, result.Stderr)
	if err != nil {
		return nil, err
	}

	return &ActionResult{
		ActionDigest: Digest{Hash: req.ActionID.Hex()},
		ExitCode:     int32(result.ExitCode),
		OutputFiles:  req.Outputs,
		OutputHashes: hashes,
		Stdout:       stdout,
		Stderr:       stderr,
	}, nil
}

// Poll returns the current state of a previously-submitted operation
// (§6.2: GET /v2/operations/{name}).
func (s *Service) Poll(name string) (*Operation, error) {
	op := s.ops.Get(name)
	if op == nil {
		return nil, ferr.New(ferr.KindConfig, "reapi.Service.Poll", name, nil).WithRemedy("unknown operation name")
	}
	return op, nil
}
