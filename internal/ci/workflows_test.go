package ci_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildFilesReferenceFrontdesk(t *testing.T) {
	projectRoot := filepath.Clean(filepath.Join("..", ".."))
	buildFiles := []struct {
		relativePath  string
		requiredSnips [][]byte
	}{
		{
			relativePath:  filepath.Join(".github", "workflows", "go-tests.yml"),
			requiredSnips: [][]byte{[]byte("go test ./..."), []byte("FRONTDESK_TEST_POSTGRES_URL")},
		},
		{
			relativePath:  filepath.Join(".github", "workflows", "release.yml"),
			requiredSnips: [][]byte{[]byte("docker build")},
		},
		{
			relativePath:  "Dockerfile",
			requiredSnips: [][]byte{[]byte("./cmd/frontdesk"), []byte(`CMD ["serve"]`)},
		},
	}

	for _, buildFile := range buildFiles {
		data, err := os.ReadFile(filepath.Join(projectRoot, buildFile.relativePath))
		if err != nil {
			t.Fatalf("read %q: %v", buildFile.relativePath, err)
		}
		for _, snip := range buildFile.requiredSnips {
			if !bytes.Contains(data, snip) {
				t.Fatalf("%q missing required snippet %q", buildFile.relativePath, string(snip))
			}
		}
	}
}
