package features

import (
	"os"
	"path/filepath"
	"testing"

	"gridmatch/internal/coarsematch"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	f := testFeatures("img-1", coarsematch.Size{H: 3, W: 4}, 8, 8)
	for i := range f.Data {
		f.Data[i] = float32(i) * 0.25
	}
	f.Scale = 1.5

	path := filepath.Join(t.TempDir(), "img-1"+FileExt)
	if err := Save(f, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != f.ID || got.Coarse != f.Coarse || got.Full != f.Full ||
		got.Channels != f.Channels || got.Scale != f.Scale {
		t.Errorf("metadata changed in round trip: %+v", got)
	}
	if len(got.Data) != len(f.Data) {
		t.Fatalf("data length %d, want %d", len(got.Data), len(f.Data))
	}
	for i := range f.Data {
		if got.Data[i] != f.Data[i] {
			t.Fatalf("data[%d] = %v, want %v", i, got.Data[i], f.Data[i])
		}
	}
}

func TestSave_RejectsInvalidFeatures(t *testing.T) {
	f := testFeatures("img-1", coarsematch.Size{H: 3, W: 4}, 8, 8)
	f.Data = f.Data[:5]

	path := filepath.Join(t.TempDir(), "broken"+FileExt)
	if err := Save(f, path); err == nil {
		t.Fatalf("expected error for invalid features")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("invalid features should not leave a file behind")
	}
}

func TestLoad_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt"+FileExt)
	if err := os.WriteFile(path, []byte("not a feature file"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for corrupt file")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"zebra", "apple"} {
		f := testFeatures(id, coarsematch.Size{H: 2, W: 2}, 4, 8)
		if err := Save(f, filepath.Join(dir, id+FileExt)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	// Files without the feature extension are skipped.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d files, want 2", len(loaded))
	}
	if loaded[0].ID != "apple" || loaded[1].ID != "zebra" {
		t.Errorf("ids not sorted: %s, %s", loaded[0].ID, loaded[1].ID)
	}
}
