package reapi

import (
	"os"
	"path/filepath"

	"github.com/forgecore/forgecore/pkg/ferr"
)

func writeWorkFile(workDir, relPath string, data []byte) error {
	full := filepath.Join(workDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ferr.New(ferr.KindIO, "reapi.writeWorkFile", full, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return ferr.New(ferr.KindIO, "reapi.writeWorkFile", full, err)
	}
	return nil
}

func readWorkFile(workDir, relPath string) ([]byte, error) {
	full := filepath.Join(workDir, relPath)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, ferr.New(ferr.KindIO, "reapi.readWorkFile", full, err)
	}
	return data, nil
}
