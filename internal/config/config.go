package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/phantom"
)

const (
	DefaultVoxelMM    = 2.0
	DefaultImageSize  = 128
	DefaultSlices     = 8
	DefaultBinWidthMM = 15.0
	DefaultNumBins    = 17
	DefaultSigmaTOFMM = 25.5 // 60mm FWHM / 2.35
	DefaultCounts     = 100000
	DefaultSeed       = 1
	DefaultWorkers    = 4
)

type Config struct {
	Image   ImageConfig   `yaml:"image"`
	TOF     TOFConfig     `yaml:"tof"`
	Scanner ScannerConfig `yaml:"scanner"`
	Run     RunConfig     `yaml:"run"`
}

type ImageConfig struct {
	Dim       [3]int     `yaml:"dim"`
	VoxelSize [3]float32 `yaml:"voxel_size"`
}

type TOFConfig struct {
	BinWidth float32 `yaml:"bin_width"`
	NumBins  int     `yaml:"num_bins"`
	Sigma    float32 `yaml:"sigma"`
	NSigmas  float32 `yaml:"n_sigmas"`
}

type ScannerConfig struct {
	Radius      float32 `yaml:"radius"`
	Crystals    int     `yaml:"crystals"`
	Rings       int     `yaml:"rings"`
	RingSpacing float32 `yaml:"ring_spacing"`
}

type RunConfig struct {
	Counts         int   `yaml:"counts"`
	Seed           int64 `yaml:"seed"`
	Devices        int   `yaml:"devices"` // <= 0 means all available
	Workers        int   `yaml:"workers"` // per device
	MemoryBudgetMB int64 `yaml:"memory_budget_mb"`
}

func DefaultConfig() *Config {
	s := phantom.DefaultScanner()
	return &Config{
		Image: ImageConfig{
			Dim:       [3]int{DefaultImageSize, DefaultImageSize, DefaultSlices},
			VoxelSize: [3]float32{DefaultVoxelMM, DefaultVoxelMM, DefaultVoxelMM},
		},
		TOF: TOFConfig{
			BinWidth: DefaultBinWidthMM,
			NumBins:  DefaultNumBins,
			Sigma:    DefaultSigmaTOFMM,
		},
		Scanner: ScannerConfig{
			Radius:      s.Radius,
			Crystals:    s.Crystals,
			Rings:       s.Rings,
			RingSpacing: s.RingSpacing,
		},
		Run: RunConfig{
			Counts:  DefaultCounts,
			Seed:    DefaultSeed,
			Workers: DefaultWorkers,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Grid builds the image geometry, centered on the scanner isocenter.
func (c *Config) Grid() geom.Grid {
	return geom.CenterGrid(c.Image.Dim, c.Image.VoxelSize)
}

// PhantomScanner builds the synthetic scanner for event simulation.
func (c *Config) PhantomScanner() phantom.Scanner {
	return phantom.Scanner{
		Radius:      c.Scanner.Radius,
		Crystals:    c.Scanner.Crystals,
		Rings:       c.Scanner.Rings,
		RingSpacing: c.Scanner.RingSpacing,
	}
}

func (c *Config) Validate() error {
	if err := c.Grid().Validate(); err != nil {
		return err
	}
	if c.TOF.BinWidth <= 0 {
		return fmt.Errorf("config: tof bin_width must be positive, got %g", c.TOF.BinWidth)
	}
	if c.TOF.Sigma <= 0 {
		return fmt.Errorf("config: tof sigma must be positive, got %g", c.TOF.Sigma)
	}
	if c.TOF.NumBins < 1 || c.TOF.NumBins%2 == 0 {
		return fmt.Errorf("config: num_bins must be odd and positive, got %d", c.TOF.NumBins)
	}
	if c.Scanner.Crystals < 8 || c.Scanner.Rings < 1 {
		return fmt.Errorf("config: scanner needs at least 8 crystals and 1 ring")
	}
	if c.Run.Counts < 0 {
		return fmt.Errorf("config: counts must be non-negative, got %d", c.Run.Counts)
	}
	return nil
}
