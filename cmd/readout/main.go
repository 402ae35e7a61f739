// Command readout post-processes a batch of heterodyned IQ readout traces
// into the per-channel to_fit arrays handed to downstream fitting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/readout/internal/config"
	"github.com/banshee-data/readout/internal/fsutil"
	"github.com/banshee-data/readout/internal/monitoring"
	"github.com/banshee-data/readout/internal/readout/pipeline"
	"github.com/banshee-data/readout/internal/readout/plots"
	"github.com/banshee-data/readout/internal/readout/report"
	"github.com/banshee-data/readout/internal/readout/store"
	"github.com/banshee-data/readout/internal/security"
	"github.com/banshee-data/readout/internal/timeutil"
	"github.com/banshee-data/readout/internal/version"
)

type options struct {
	configPath  string
	dataPath    string
	dbPath      string
	plotsDir    string
	reportPath  string
	saveConfig  bool
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("readout", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", config.DefaultProcessConfigPath, "path to the process configuration (YAML)")
	fs.StringVar(&o.dataPath, "data", "", "path to the measurement batch (JSON)")
	fs.StringVar(&o.dbPath, "db", "", "store results in this sqlite database")
	fs.StringVar(&o.plotsDir, "plots", "", "write PNG plots into this directory")
	fs.StringVar(&o.reportPath, "report", "", "write an HTML report to this path")
	fs.BoolVar(&o.saveConfig, "save-config", false, "persist configuration repairs back to -config")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if !o.showVersion && o.dataPath == "" {
		return o, errors.New("-data is required")
	}
	return o, nil
}

func run(ctx context.Context, o options, fsys fsutil.FileSystem, stdout io.Writer) error {
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	clock := timeutil.RealClock{}
	start := clock.Now()

	for _, p := range []string{o.dbPath, o.plotsDir, o.reportPath} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p); err != nil {
			return fmt.Errorf("invalid output path: %w", err)
		}
	}

	cfg, err := config.LoadProcessConfig(fsys, o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Dirty() {
		if o.saveConfig {
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			monitoring.Logf("config: repaired settings saved to %s", o.configPath)
		} else {
			monitoring.Warnf("config: repaired settings are in memory only; rerun with -save-config to persist them")
		}
	}

	batch, err := pipeline.LoadBatch(fsys, o.dataPath)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	res, err := pipeline.NewProcessor(cfg).Process(batch)
	if err != nil {
		return err
	}
	printResult(stdout, res)

	if o.dbPath != "" {
		st, err := store.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SaveResult(ctx, res); err != nil {
			return fmt.Errorf("store result: %w", err)
		}
	}
	if o.plotsDir != "" {
		written, err := plots.NewPlotter(fsys, o.plotsDir).WriteResult(res)
		if err != nil {
			return fmt.Errorf("plot result: %w", err)
		}
		monitoring.Logf("plots: wrote %d files to %s", len(written), o.plotsDir)
	}
	if o.reportPath != "" {
		if err := report.WriteFile(fsys, o.reportPath, res, report.Options{}); err != nil {
			return err
		}
	}

	monitoring.Logf("readout: batch %s done in %s", res.ID, clock.Since(start))
	return nil
}

func printResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "batch %s (%s routine)\n", res.ID, res.Routine)
	if res.Mask != nil {
		fmt.Fprintf(w, "heralding: %d shots kept per sweep point\n", res.Mask.NPass)
	}
	for _, id := range res.ChannelIDs() {
		cr := res.Channels[id]
		if cr.ToFit == nil {
			fmt.Fprintf(w, "%s: no to_fit\n", id)
			continue
		}
		fmt.Fprintf(w, "%s to_fit =\n    %v\n", id, mat.Formatted(cr.ToFit, mat.Prefix("    "), mat.Squeeze()))
	}
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("readout: %v", err)
	}
	if err := run(context.Background(), o, fsutil.OSFileSystem{}, os.Stdout); err != nil {
		log.Fatalf("readout: %v", err)
	}
}
