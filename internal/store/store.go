package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/san-kum/radau/internal/dae"
)

// Store persists integration runs under a base directory, one
// subdirectory per run with metadata.json and states.csv.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
	Stages    int       `json:"stages"`
	Rtol      float64   `json:"rtol"`
	Atol      float64   `json:"atol"`
	T0        float64   `json:"t0"`
	TBound    float64   `json:"t_bound"`
	Stats     dae.Stats `json:"stats"`
}

// Save writes one run and returns its generated ID. The CSV carries the
// accepted mesh: time, state components, derivative components.
func (s *Store) Save(model string, opts dae.Options, result *dae.Result) (string, error) {
	runID := fmt.Sprintf("%s_%d", model, time.Now().Unix())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Model:     model,
		Timestamp: time.Now(),
		Stages:    opts.Stages,
		Rtol:      opts.Rtol,
		Atol:      opts.Atol,
		Stats:     result.Stats,
	}
	if result.Len() > 0 {
		meta.T0 = result.T[0]
		meta.TBound = result.T[result.Len()-1]
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvPath := filepath.Join(runDir, "states.csv")
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if result.Len() == 0 {
		return runID, nil
	}

	dim := len(result.Y[0])
	header := []string{"time"}
	for i := 0; i < dim; i++ {
		header = append(header, fmt.Sprintf("y%d", i))
	}
	for i := 0; i < dim; i++ {
		header = append(header, fmt.Sprintf("yp%d", i))
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i := 0; i < result.Len(); i++ {
		row := []string{strconv.FormatFloat(result.T[i], 'g', -1, 64)}
		for _, val := range result.Y[i] {
			row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
		}
		for _, val := range result.Yp[i] {
			row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metaPath := filepath.Join(s.baseDir, entry.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadStates reads back the accepted mesh of a run. The column split
// between states and derivatives follows from the header width.
func (s *Store) LoadStates(runID string) (times []float64, ys, yps [][]float64, err error) {
	csvPath := filepath.Join(s.baseDir, runID, "states.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	if len(records) < 2 {
		return []float64{}, [][]float64{}, [][]float64{}, nil
	}

	dim := (len(records[0]) - 1) / 2
	for _, record := range records[1:] {
		if len(record) != 1+2*dim {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}
		y := make([]float64, dim)
		yp := make([]float64, dim)
		ok := true
		for j := 0; j < dim; j++ {
			if y[j], err = strconv.ParseFloat(record[1+j], 64); err != nil {
				ok = false
				break
			}
			if yp[j], err = strconv.ParseFloat(record[1+dim+j], 64); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		times = append(times, t)
		ys = append(ys, y)
		yps = append(yps, yp)
	}

	return times, ys, yps, nil
}
