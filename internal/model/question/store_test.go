package question

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
)

func TestSeedIsValid(t *testing.T) {
	seen := map[string]bool{}
	for _, q := range Seed() {
		if q.ID == "" || q.Prompt == "" || q.ExpectedDuration <= 0 {
			t.Fatalf("incomplete seed question %+v", q)
		}
		if seen[q.ID] {
			t.Fatalf("duplicate seed id %s", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemoryStore(Seed())

	q, ok := store.FindByID("job-technical-system")
	if !ok || q.Type != practice.Technical {
		t.Fatalf("unexpected lookup result %+v %v", q, ok)
	}
	if _, ok := store.FindByID("missing"); ok {
		t.Fatal("expected miss for unknown id")
	}

	part2 := store.Filter(practice.IELTSPart2)
	if len(part2) != 2 {
		t.Fatalf("expected 2 part 2 questions, got %d", len(part2))
	}
	if len(store.Filter("")) != len(Seed()) {
		t.Fatal("empty filter should list every question")
	}

	// List returns a copy
	items := store.List()
	items[0].ID = "mutated"
	if store.List()[0].ID == "mutated" {
		t.Fatal("List leaked internal slice")
	}
}

func writeBank(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bank.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write bank: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeBank(t, `
[[question]]
id = "custom-p1"
type = "ielts_part1"
prompt = "Do you like cooking?"
tips = ["Give a reason"]

[[question]]
id = "custom-behavioral"
type = "behavioral"
prompt = "Tell me about a time you led a team."
expected-duration = 150
key-points = ["situation", "result"]
`)

	items, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(items))
	}
	if items[0].ExpectedDuration != 30 {
		t.Fatalf("expected part 1 default of 30s, got %d", items[0].ExpectedDuration)
	}
	if items[1].ExpectedDuration != 150 || len(items[1].KeyPoints) != 2 {
		t.Fatalf("unexpected second question %+v", items[1])
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected error for empty path")
	}

	dup := writeBank(t, `
[[question]]
id = "a"
prompt = "one"

[[question]]
id = "a"
prompt = "two"
`)
	if _, err := LoadFile(dup); err == nil {
		t.Fatal("expected duplicate id error")
	}

	noID := writeBank(t, `
[[question]]
prompt = "anonymous"
`)
	if _, err := LoadFile(noID); err == nil {
		t.Fatal("expected missing id error")
	}
}
