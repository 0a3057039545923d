// Package commands implements the kestrel-heap operational tool: a
// synthetic workload driver and serviceability endpoint for exercising and
// inspecting the generational heap outside a full runtime.
package commands

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kestrel-lang/kestrel/internal/archive"
	"github.com/kestrel-lang/kestrel/internal/config"
	"github.com/kestrel-lang/kestrel/internal/heap"
)

var (
	cfgFile    string
	snapshot   string
	verbose    bool
	cliVersion = "dev"

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "kestrel-heap",
	Short: "Generational heap workload and inspection tool",
	Long: `kestrel-heap drives the kestrel generational heap with synthetic
allocation workloads and exposes its memory pools to monitoring tools.

  kestrel-heap stress   # allocation workload driving minor/major GC
  kestrel-heap serve    # serviceability endpoint only`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersion records the build version for the version command.
func SetVersion(v string) { cliVersion = v }

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&snapshot, "snapshot", "", "archive snapshot manifest to preload")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// buildHeap constructs a heap from the loaded configuration.
func buildHeap() (*heap.Heap, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	h, err := heap.New(heap.Config{
		EdenInitial:      cfg.Heap.EdenInitial,
		EdenMax:          cfg.Heap.EdenMax,
		SurvivorMax:      cfg.Heap.SurvivorMax,
		OldInitial:       cfg.Heap.OldInitial,
		OldMax:           cfg.Heap.OldMax,
		TenureAge:        cfg.Tunables.TenureAge,
		DedupWorker:      cfg.Worker.Dedup,
		SafepointTimeout: cfg.Worker.SafepointTimeout,
		Logger:           log,
	})
	if err != nil {
		return nil, nil, err
	}
	if snapshot != "" {
		// Snapshots load before any mutator touches the heap.
		res, err := archive.LoadFile(h, snapshot)
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(logrus.Fields{
			"regions": len(res.Regions),
			"objects": len(res.Objects),
		}).Info("archive snapshot loaded")
	}
	if err := h.InitServiceability(); err != nil {
		return nil, nil, err
	}
	return h, cfg, nil
}
