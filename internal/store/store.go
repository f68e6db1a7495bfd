package store

import (
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/hmalva/petproj/internal/geom"
)

// Store persists projection runs: one directory per run holding the raw
// float32 volume, JSON metadata, and an axial profile CSV.
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
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Dim       [3]int     `json:"dim"`
	VoxelSize [3]float32 `json:"voxel_size"`
	Origin    [3]float32 `json:"origin"`
	Counts    int        `json:"counts"`
	Seed      int64      `json:"seed"`
	Devices   int        `json:"devices"`
	Elapsed   float64    `json:"elapsed_seconds"`
}

// Save writes the back-projected volume and its metadata, returning the
// run id.
func (s *Store) Save(g geom.Grid, img []float32, counts int, seed int64, devices int, elapsed time.Duration) (string, error) {
	runID := fmt.Sprintf("proj_%d", time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Timestamp: time.Now(),
		Dim:       g.Dim,
		VoxelSize: g.VoxelSize,
		Origin:    g.Origin,
		Counts:    counts,
		Seed:      seed,
		Devices:   devices,
		Elapsed:   elapsed.Seconds(),
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	rawFile, err := os.Create(filepath.Join(runDir, "volume.raw"))
	if err != nil {
		return "", err
	}
	defer rawFile.Close()
	if err := binary.Write(rawFile, binary.LittleEndian, img); err != nil {
		return "", err
	}

	if err := s.writeProfile(filepath.Join(runDir, "profile.csv"), g, img); err != nil {
		return "", err
	}

	return runID, nil
}

// writeProfile exports the volume summed over axes 1 and 2, one row per
// axis-0 plane: a quick-look curve without a volume viewer.
func (s *Store) writeProfile(path string, g geom.Grid, img []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"i0", "sum"}); err != nil {
		return err
	}
	for i0 := 0; i0 < g.Dim[0]; i0++ {
		var sum float64
		for i1 := 0; i1 < g.Dim[1]; i1++ {
			for i2 := 0; i2 < g.Dim[2]; i2++ {
				sum += float64(img[g.Index(i0, i1, i2)])
			}
		}
		row := []string{strconv.Itoa(i0), strconv.FormatFloat(sum, 'f', 6, 64)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a saved volume back, checking its size against the metadata.
func (s *Store) Load(runID string) (RunMetadata, []float32, error) {
	var meta RunMetadata
	runDir := filepath.Join(s.baseDir, runID)

	data, err := os.ReadFile(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return meta, nil, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, nil, err
	}

	n := meta.Dim[0] * meta.Dim[1] * meta.Dim[2]
	img := make([]float32, n)
	raw, err := os.Open(filepath.Join(runDir, "volume.raw"))
	if err != nil {
		return meta, nil, err
	}
	defer raw.Close()
	if err := binary.Read(raw, binary.LittleEndian, img); err != nil {
		return meta, nil, err
	}
	return meta, img, nil
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
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}
