package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-lang/kestrel/internal/config"
	"github.com/kestrel-lang/kestrel/internal/serviceability"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the serviceability endpoint until interrupted",
	Long: `serve builds a heap from the configuration, starts the pool/metrics
endpoint and hot-reloads GC tunables from the config file until SIGINT or
SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	h, cfg, err := buildHeap()
	if err != nil {
		return err
	}

	addr := cfg.Export.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	bound, stop, err := serviceability.StartServer(addr, h.Managers()...)
	if err != nil {
		return err
	}
	log.WithField("addr", bound).Info("serviceability endpoint up")

	if cfgFile != "" {
		w, err := config.Watch(cfgFile, func(t config.Tunables) {
			h.SetTenureAge(t.TenureAge)
			log.WithField("tenure_age", t.TenureAge).Info("tunables reloaded")
		}, func(err error) {
			log.WithError(err).Warn("tunables reload failed")
		})
		if err != nil {
			return err
		}
		defer w.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return stop(ctx)
}
