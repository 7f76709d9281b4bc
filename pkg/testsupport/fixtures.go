package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

// LoadFixture returns the bytes of the fixture at path, relative to the
// package under test.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("load fixture %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON decodes the fixture at path into dest.
func LoadFixtureJSON(t *testing.T, path string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("decode fixture %s: %v", path, err)
	}
}

// CompareWithGolden fails the test when actual differs from the golden file
// at path. A missing golden file is written from actual.
func CompareWithGolden(t *testing.T, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		t.Logf("writing missing golden file %s", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("create golden dir for %s: %v", path, err)
		}
		if err := os.WriteFile(path, actual, 0o644); err != nil {
			t.Fatalf("write golden file %s: %v", path, err)
		}
		return
	case err != nil:
		t.Fatalf("read golden file %s: %v", path, err)
	}

	if !bytes.Equal(actual, expected) {
		t.Errorf("%s mismatch:\nwant:\n%s\ngot:\n%s", path, expected, actual)
	}
}

// FixturePath joins filename under testdata.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath joins filename under testdata/golden.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
