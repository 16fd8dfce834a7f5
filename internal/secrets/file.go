package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileProvider reads a secret from a file, as mounted by Docker or
// Kubernetes. Surrounding whitespace is dropped.
type FileProvider struct{}

func (FileProvider) Name() string { return "file" }

func (FileProvider) Get(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return v, nil
}
