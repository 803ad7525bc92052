// Command boat_tracker records vehicle position and engine telemetry to a
// local SQLite store and replicates it to a remote sink.
//
// Usage:
//
//	boat_tracker run [--config FILE] [flags]
//	    Sample position and engine data, upload in the background and serve
//	    the status API until interrupted.
//
//	boat_tracker dump <db> [uploaded]
//	    Print every stored sample in time order as tab-separated text,
//	    optionally only those with the given uploaded flag (0 or 1).
//
//	boat_tracker stats <db>
//	    Print upload progress.
//
//	boat_tracker kml <db> [--format kml|geojson] [--output FILE]
//	    Export the stored track for mapping tools.
//
//	boat_tracker snapshot [--gpsd ADDR]
//	    Watch gpsd for a few seconds and print the best fix.
//
// Credentials come from POSTGRES_PASSWORD, CLICKHOUSE_PASSWORD and NATS_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/spf13/pflag"
	"golang.org/x/xerrors"

	"boat_tracker/internal/config"
	"boat_tracker/internal/export"
	"boat_tracker/internal/gps"
	"boat_tracker/internal/storage"
	"boat_tracker/internal/tracker"
	"boat_tracker/internal/tzoffset"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "boat_tracker - commands:")
	fmt.Fprintln(w, "  run       - record and upload samples until interrupted")
	fmt.Fprintln(w, "  dump      - print stored samples as tab-separated text")
	fmt.Fprintln(w, "  stats     - print upload progress")
	fmt.Fprintln(w, "  kml       - export the stored track as KML or GeoJSON")
	fmt.Fprintln(w, "  snapshot  - print the best GPS fix seen in a few seconds")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  boat_tracker run [--config boat_tracker.yaml] [--db boat_tracker.db] [--sink clickhouse]")
	fmt.Fprintln(w, "  boat_tracker dump <db> [uploaded]")
	fmt.Fprintln(w, "  boat_tracker stats <db>")
	fmt.Fprintln(w, "  boat_tracker kml <db> [--format kml|geojson] [--output track.kml]")
	fmt.Fprintln(w, "  boat_tracker snapshot [--gpsd localhost:2947]")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := dispatch(ctx, strings.ToLower(os.Args[1]), os.Args[2:], os.Stdout)
	stop()

	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		usage(os.Stderr)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func dispatch(ctx context.Context, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "run":
		return runTracker(ctx, args)
	case "dump":
		return runDump(ctx, args, stdout)
	case "stats":
		return runStats(ctx, args, stdout)
	case "kml":
		return runExport(ctx, args, stdout)
	case "snapshot":
		return runSnapshot(ctx, args, stdout)
	case "-h", "--help", "help":
		usage(stdout)
		return nil
	default:
		return xerrors.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func newLogger(level string) (slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return slog.Logger{}, err
	}
	return slog.Make(sloghuman.Sink(os.Stderr)).Leveled(lvl), nil
}

func runTracker(ctx context.Context, args []string) error {
	cfg := config.Default()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("BOAT_TRACKER_CONFIG"), "YAML configuration file")
	cfg.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Load(*configPath, fs, os.Getenv); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.Info(ctx, "starting boat tracker",
		slog.F("database", cfg.Database),
		slog.F("gpsd", cfg.GPS.Address),
		slog.F("pipe", cfg.Bus.Pipe),
		slog.F("sink", cfg.Remote.Sink),
		slog.F("http", cfg.HTTP.Address),
	)

	t, err := tracker.New(ctx, cfg, logger, tracker.Options{})
	if err != nil {
		return err
	}
	err = t.Run(ctx)
	logger.Info(context.Background(), "boat tracker stopped")
	return err
}

// openStore opens the database named by the first positional argument.
func openStore(fs *pflag.FlagSet) (*storage.DB, error) {
	if fs.NArg() < 1 {
		return nil, xerrors.Errorf("%s: database path required: %w", fs.Name(), errUsage)
	}
	return storage.Open(fs.Arg(0))
}

func runDump(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 2 {
		return xerrors.Errorf("dump: too many arguments: %w", errUsage)
	}

	var p storage.RangeParams
	if fs.NArg() == 2 {
		uploaded, err := strconv.ParseBool(fs.Arg(1))
		if err != nil {
			return xerrors.Errorf("dump: uploaded filter %q: %w", fs.Arg(1), errUsage)
		}
		p.Uploaded = &uploaded
	}

	db, err := openStore(fs)
	if err != nil {
		return err
	}
	defer db.Close()

	samples, err := db.Range(ctx, p)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		_, err := fmt.Fprintln(stdout, "(No records)")
		return err
	}
	return export.WriteTSV(stdout, samples)
}

func runStats(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := openStore(fs)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.UploadStats(ctx)
	if err != nil {
		return err
	}
	writeStats(stdout, stats)
	return nil
}

func writeStats(w io.Writer, stats *storage.UploadStats) {
	lastUploaded := "No uploaded records found."
	if stats.LastUploaded.Valid {
		lastUploaded = tzoffset.WallClock(stats.LastUploaded.Float64).Format(time.DateTime)
	}
	lastPending := "No unuploaded records found."
	if stats.LastPending.Valid {
		lastPending = tzoffset.WallClock(stats.LastPending.Float64).Format(time.DateTime)
	}
	fmt.Fprintf(w, "Time of last uploaded record:\t%s\n", lastUploaded)
	fmt.Fprintf(w, "Number of records to upload:\t%d\n", stats.Pending)
	fmt.Fprintf(w, "Time of last record:\t\t%s\n", lastPending)
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("kml", pflag.ContinueOnError)
	format := fs.String("format", "kml", "output format (kml, geojson)")
	output := fs.String("output", "", "output file (default: stdout)")
	name := fs.String("name", "Boat track", "document name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openStore(fs)
	if err != nil {
		return err
	}
	defer db.Close()

	samples, err := db.Range(ctx, storage.RangeParams{})
	if err != nil {
		return err
	}

	w := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch *format {
	case "kml":
		return export.WriteKML(w, export.Track(*name, samples, time.Now()))
	case "geojson":
		data, err := export.GeoJSON(samples).MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return xerrors.Errorf("kml: unknown format %q: %w", *format, errUsage)
	}
}

func runSnapshot(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
	addr := fs.String("gpsd", gps.DefaultAddress, "gpsd address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src := gps.NewGPSD(*addr, 0, quartz.NewReal())
	defer src.Close()

	fix, err := gps.Snapshot(ctx, src, quartz.NewReal())
	if errors.Is(err, gps.ErrNoFix) {
		_, err := fmt.Fprintln(stdout, "No GPS data received!")
		return err
	}
	if err != nil {
		return err
	}
	writeFix(stdout, fix)
	return nil
}

func writeFix(w io.Writer, fix gps.Fix) {
	fmt.Fprintf(w, "Fix Status: %s\n", fix.Quality)
	fmt.Fprintf(w, "Latitude: %v, Longitude: %v\n", fix.Latitude, fix.Longitude)
	if fix.Quality >= gps.Quality3D {
		fmt.Fprintf(w, "Altitude: %v m\n", fix.Altitude)
	}
	fmt.Fprintf(w, "Speed: %.1f knots\n", fix.Speed*knotsPerMetreSecond)
	fmt.Fprintf(w, "Heading: %v°\n", fix.Track)
}

const knotsPerMetreSecond = 1.943844
