package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/radau/internal/dae"
)

func testResult() *dae.Result {
	return &dae.Result{
		T:  []float64{0, 0.1, 0.25},
		Y:  [][]float64{{1, 0}, {0.9, -0.1}, {0.75, -0.2}},
		Yp: [][]float64{{-1, 0}, {-0.9, 0.1}, {-0.75, 0.2}},
		Stats: dae.Stats{
			Steps:         2,
			ResidualEvals: 24,
			JacobianEvals: 1,
		},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	opts := dae.DefaultOptions()
	runID, err := st.Save("decay", opts, testResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Model != "decay" {
		t.Errorf("expected model 'decay', got '%s'", meta.Model)
	}
	if meta.Stages != opts.Stages {
		t.Errorf("expected %d stages, got %d", opts.Stages, meta.Stages)
	}
	if meta.Stats.Steps != 2 {
		t.Errorf("expected 2 steps, got %d", meta.Stats.Steps)
	}
	if meta.T0 != 0 || meta.TBound != 0.25 {
		t.Errorf("expected span [0,0.25], got [%g,%g]", meta.T0, meta.TBound)
	}

	times, ys, yps, err := st.LoadStates(runID)
	if err != nil {
		t.Fatalf("load states failed: %v", err)
	}
	if len(times) != 3 || len(ys) != 3 || len(yps) != 3 {
		t.Fatalf("expected 3 samples, got %d/%d/%d", len(times), len(ys), len(yps))
	}
	if ys[1][0] != 0.9 || yps[2][1] != 0.2 {
		t.Errorf("round trip lost values: %v %v", ys, yps)
	}
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	if _, err := st.Save("decay", dae.DefaultOptions(), testResult()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save("decay", dae.DefaultOptions(), testResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	if _, err := os.Stat(filepath.Join(runDir, "metadata.json")); os.IsNotExist(err) {
		t.Error("metadata.json not created")
	}
	if _, err := os.Stat(filepath.Join(runDir, "states.csv")); os.IsNotExist(err) {
		t.Error("states.csv not created")
	}
}
