package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/hmalva/petproj/internal/config"
	"github.com/hmalva/petproj/internal/device"
	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/phantom"
	"github.com/hmalva/petproj/internal/store"
	"github.com/hmalva/petproj/internal/tof"
	"github.com/hmalva/petproj/internal/viz"
)

var (
	dataDir    string
	configFile string
	counts     int
	seed       int64
	devices    int
	workers    int
	live       bool
	save       bool
	plotAxis   int
	benchReps  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "petproj",
		Short: "TOF list-mode PET back projector",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".petproj", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")

	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "back project simulated list-mode events",
		RunE:  runProject,
	}
	projectCmd.Flags().IntVar(&counts, "counts", 0, "events to simulate (0 = config value)")
	projectCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = config value)")
	projectCmd.Flags().IntVar(&devices, "devices", 0, "device count (<= 0 = all available)")
	projectCmd.Flags().IntVar(&workers, "workers", 0, "workers per device (0 = config value)")
	projectCmd.Flags().BoolVar(&live, "live", false, "live progress view")
	projectCmd.Flags().BoolVar(&save, "save", false, "persist the volume under the data directory")
	projectCmd.Flags().IntVar(&plotAxis, "plot-axis", 1, "axis for the profile plot")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark device scaling",
		RunE:  runBench,
	}
	benchCmd.Flags().IntVar(&counts, "counts", 0, "events to simulate (0 = config value)")
	benchCmd.Flags().IntVar(&benchReps, "reps", 5, "repetitions per device count")
	benchCmd.Flags().IntVar(&workers, "workers", 0, "workers per device (0 = config value)")

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "show available devices",
		RunE:  runDevices,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  runList,
	}

	rootCmd.AddCommand(projectCmd, benchCmd, devicesCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, err
		}
	}
	if counts > 0 {
		cfg.Run.Counts = counts
	}
	if seed != 0 {
		cfg.Run.Seed = seed
	}
	if devices != 0 {
		cfg.Run.Devices = devices
	}
	if workers > 0 {
		cfg.Run.Workers = workers
	}
	return cfg, cfg.Validate()
}

func buildRun(cfg *config.Config) (*device.Orchestrator, *tofRun, error) {
	orch, err := device.New(device.Options{
		Devices:          cfg.Run.Devices,
		WorkersPerDevice: cfg.Run.Workers,
		MemoryBudget:     cfg.Run.MemoryBudgetMB << 20,
	})
	if err != nil {
		return nil, nil, err
	}

	scanner := cfg.PhantomScanner()
	events := scanner.Events(cfg.Run.Counts, phantom.TOF{
		NumBins:  cfg.TOF.NumBins,
		SigmaTOF: cfg.TOF.Sigma,
	}, cfg.Run.Seed)

	return orch, &tofRun{
		cfg:    cfg,
		events: events,
		params: tof.Params{
			BinWidth: cfg.TOF.BinWidth,
			NSigmas:  cfg.TOF.NSigmas,
			Table:    tof.NewTable(),
		},
	}, nil
}

type tofRun struct {
	cfg    *config.Config
	events *geom.Events
	params tof.Params
}

func runProject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, run, err := buildRun(cfg)
	if err != nil {
		return err
	}

	g := cfg.Grid()
	img := make([]float32, g.NumVoxels())

	start := time.Now()
	if live {
		done := make(chan error, 1)
		prog := tea.NewProgram(viz.NewLive(orch.Progress))
		go func() {
			err := orch.BackProject(context.Background(), run.events, img, g, run.params)
			done <- err
			prog.Send(viz.DoneMsg{Err: err})
		}()
		if _, perr := prog.Run(); perr != nil {
			return perr
		}
		// Detaching the view does not stop the projection; img may not be
		// read until the kernel goroutine has finished writing it.
		if err := <-done; err != nil {
			return err
		}
	} else {
		if err := orch.BackProject(context.Background(), run.events, img, g, run.params); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	info := viz.RunInfo{
		Counts:  run.events.Len(),
		Devices: orch.NumDevices(),
		Workers: cfg.Run.Workers,
		Grid:    g,
		Elapsed: elapsed,
	}

	if save {
		st := store.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		id, err := st.Save(g, img, run.events.Len(), cfg.Run.Seed, orch.NumDevices(), elapsed)
		if err != nil {
			return err
		}
		info.RunID = id
	}

	fmt.Println(viz.Summary(info))
	fmt.Println()
	fmt.Println(viz.Profile(g, img, plotAxis))
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "devices\tmean\tstddev\tLORs/s")

	for _, ndev := range []int{1, 2, 4} {
		if ndev > device.Available() {
			continue
		}
		cfg.Run.Devices = ndev
		orch, run, err := buildRun(cfg)
		if err != nil {
			return err
		}
		g := cfg.Grid()

		samples := make([]float64, 0, benchReps)
		for r := 0; r < benchReps; r++ {
			img := make([]float32, g.NumVoxels())
			start := time.Now()
			if err := orch.BackProject(context.Background(), run.events, img, g, run.params); err != nil {
				return err
			}
			samples = append(samples, time.Since(start).Seconds())
		}

		mean := stat.Mean(samples, nil)
		sd := stat.StdDev(samples, nil)
		fmt.Fprintf(w, "%d\t%.3fs\t%.3fs\t%.0f\n",
			ndev, mean, sd, float64(run.events.Len())/mean)
	}
	return w.Flush()
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n := device.Available()
	fmt.Printf("%d devices available\n", n)
	for i := 0; i < n; i++ {
		d := device.NewCPU(i, cfg.Run.Workers, cfg.Run.MemoryBudgetMB<<20)
		fmt.Println(" ", d.Name())
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no saved runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "id\ttimestamp\tvolume\tevents\tdevices\telapsed")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%dx%dx%d\t%d\t%d\t%.2fs\n",
			r.ID, r.Timestamp.Format(time.RFC3339),
			r.Dim[0], r.Dim[1], r.Dim[2], r.Counts, r.Devices, r.Elapsed)
	}
	return w.Flush()
}
