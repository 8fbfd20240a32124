package lines

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestReadStripsBlankAndCommentLines(t *testing.T) {
	content := `
# a full-line comment
source data.csv

print
  # indented comment
`
	path := writeTemp(t, "p.ppl", content)

	got, err := Read(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"source data.csv", "print"}
	if len(got) != len(want) {
		t.Fatalf("Read() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReadStripsInlineComments(t *testing.T) {
	path := writeTemp(t, "p.ppl", `filter age > 30 # only adults
replace status "#" "unknown"
`)
	got, err := Read(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read() = %v, want 2 lines", got)
	}
	if got[0] != "filter age > 30" {
		t.Errorf("line 0 = %q, want inline comment stripped", got[0])
	}
	if got[1] != `replace status "#" "unknown"` {
		t.Errorf("line 1 = %q, want quoted '#' preserved", got[1])
	}
}

func TestReadRejectsWrongExtension(t *testing.T) {
	path := writeTemp(t, "p.txt", "source data.csv\n")
	if _, err := Read(path); err == nil {
		t.Error("expected error for non-.ppl extension, got nil")
	}
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Read(filepath.Join(dir, "missing.ppl")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
