package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
)

func TestFileStoreMissingSensor(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	attrs, err := s.Load("knob")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(attrs) != 0 {
		t.Errorf("expected empty attributes, got %v", attrs)
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	lo, hi := 20.0, 80.0
	rec := Record{
		Persisted: calibration.Persisted{MinRotation: &lo, MaxRotation: &hi, Reverse: true},
		MaxValue:  40,
	}
	if err := s.Save("knob", rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	attrs, err := s.Load("knob")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	st := calibration.Restore(attrs)
	if st.Calibrating {
		t.Error("restored state is calibrating")
	}
	if st.MinObserved == nil || *st.MinObserved != 20 || st.MaxObserved == nil || *st.MaxObserved != 80 || !st.Reverse {
		t.Errorf("restored %+v", st)
	}
	if got := calibration.RestoreCeiling(attrs[AttrMaxValue], calibration.DefaultCeiling); got != 40 {
		t.Errorf("max value = %d, want 40", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only knob.json in %s, found %d entries", dir, len(entries))
	}
}

func TestFileStoreNullBounds(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	if err := s.Save("dial", Record{MaxValue: 100}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	attrs, err := s.Load("dial")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st := calibration.Restore(attrs); st.HasBounds() {
		t.Errorf("expected no bounds, got %+v", st)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir)
	if err := os.WriteFile(filepath.Join(dir, "knob.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("knob"); err == nil {
		t.Error("expected parse error for corrupt state file")
	}
}
