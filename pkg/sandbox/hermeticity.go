package sandbox

import (
	"os"
	"path/filepath"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// PreCheck verifies the working directory holds no file other than the
// declared inputs before the action runs (§4.5 pre-execution half of
// hermeticity). Any extra file is a violation — it means a prior action's
// outputs leaked into this one's sandbox. A declared input that is absent
// from the directory is not reported.
func PreCheck(spec *SandboxSpec) error {
	var found []string
	err := filepath.Walk(spec.WorkDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(spec.WorkDir, path)
		if relErr != nil {
			return relErr
		}
		found = append(found, rel)
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	if err != nil {
		return ferr.New(ferr.KindIO, "sandbox.PreCheck", spec.WorkDir, err)
	}

	for _, rel := range found {
		if _, declared := spec.Inputs[rel]; !declared {
			return (&Violation{
				Type: ViolationFilesystemRead, Path: rel,
				Metadata: map[string]string{"reason": "undeclared file present in working directory before execution"},
			}).AsFerr("sandbox.PreCheck")
		}
	}
	return nil
}

// PostCheck verifies that every declared output was produced and no
// undeclared file was materialized (§4.5 post-execution half: "all
// declared outputs exist; no undeclared outputs were created"). A
// missing declared output and an undeclared extra output are both
// reported so the caller can decide policy — §7 treats either as a
// propagating, non-retryable SandboxViolation.
func PostCheck(spec *SandboxSpec) ([]*Violation, error) {
	declared := make(map[string]bool, len(spec.Inputs)+len(spec.Outputs))
	for in := range spec.Inputs {
		declared[in] = true
	}
	outSet := make(map[string]bool, len(spec.Outputs))
	for _, o := range spec.Outputs {
		outSet[o] = true
	}

	var present = make(map[string]bool)
	err := filepath.Walk(spec.WorkDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(spec.WorkDir, path)
		if relErr != nil {
			return relErr
		}
		present[rel] = true
		return nil
	})
	if err != nil {
		return nil, ferr.New(ferr.KindIO, "sandbox.PostCheck", spec.WorkDir, err)
	}

	var violations []*Violation
	for _, out := range spec.Outputs {
		if !present[out] {
			violations = append(violations, &Violation{
				Type: ViolationFilesystemWrite, Path: out,
				Metadata: map[string]string{"reason": "declared output was not produced"},
			})
		}
	}
	for rel := range present {
		if declared[rel] || outSet[rel] {
			continue
		}
		violations = append(violations, &Violation{
			Type: ViolationFilesystemWrite, Path: rel,
			Metadata: map[string]string{"reason": "undeclared output materialized during execution"},
		})
	}
	return violations, nil
}
