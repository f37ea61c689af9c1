package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fibermap/core-go/internal/config"
	"fibermap/core-go/internal/logging"
	"fibermap/core-go/internal/network"
	"fibermap/core-go/internal/store"
	"fibermap/core-go/internal/topology"
)

type options struct {
	configPath string
	file       string
	logLevel   string
	jsonOut    bool
}

// NewRootCmd builds the ftthctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ftthctl",
		Short: "Inspect optical power budgets and FTTH topology",
		Long: `ftthctl computes power budgets, port occupancy and descendant counts for a GPON/FTTH
network, read either from the configured store or from a YAML topology file.

Import a file into the store with: ftthctl import network.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", os.Getenv("FTTH_CONFIG"), "config file (default: ./fibermap.yaml)")
	pf.StringVarP(&opts.file, "file", "f", "", "read the network from a YAML topology file instead of the store")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")
	pf.BoolVar(&opts.jsonOut, "json", false, "print JSON instead of styled text")

	root.AddCommand(
		newBudgetCmd(opts),
		newCountsCmd(opts),
		newPortsCmd(opts),
		newCascadeCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// Execute runs the CLI against os.Args.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprint(os.Stderr, FormatError("ftthctl failed", err.Error(), ""))
		return err
	}
	return nil
}

type session struct {
	svc   *network.Service
	close func()
}

// open loads the network either from --file into memory or from the configured store.
func (o *options) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	log := logging.NewWithWriter(cmd.ErrOrStderr(), o.logLevel)
	ctx := cmd.Context()

	if o.file != "" {
		f, err := readTopologyFile(o.file)
		if err != nil {
			return nil, err
		}
		mem := store.NewMemory()
		svc := network.New(log, mem, mem, network.Options{Model: cfg.PowerModel()})
		sum, err := svc.Import(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, id := range sum.Skipped {
			log.Warn().Str("item_id", id).Msg("item skipped: parent not in file")
		}
		return &session{svc: svc, close: func() {}}, nil
	}

	backend, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	svc := network.New(log, backend, backend, network.Options{Model: cfg.PowerModel()})
	if _, err := svc.Bootstrap(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &session{svc: svc, close: func() { _ = backend.Close() }}, nil
}

func readTopologyFile(path string) (topology.File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return topology.File{}, err
	}
	defer fh.Close()
	f, err := topology.ReadYAML(fh)
	if err != nil {
		return topology.File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
