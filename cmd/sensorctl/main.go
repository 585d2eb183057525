// sensorctl validates, cleans, analyzes and converts exported sensor data
// files without a running server.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/analytics"
	"github.com/afroash/sensor-pipeline/internal/config"
	"github.com/afroash/sensor-pipeline/internal/export"
	"github.com/afroash/sensor-pipeline/internal/logging"
	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/processing"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

const usage = `usage: sensorctl <command> [flags]

commands:
  validate  check every reading of a file against the field schema
  clean     run the cleaning pipeline and write the cleaned readings
  analyze   clean (unless -raw) and print the full analysis
  convert   rewrite a file in another format
`

// errInvalid marks a validate run that found bad readings
var errInvalid = errors.New("invalid readings found")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, "sensorctl:", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	logger := logging.NewWithWriter(stderr, "text", zerolog.InfoLevel)

	switch args[0] {
	case "validate":
		return runValidate(args[1:], stdout)
	case "clean":
		return runClean(args[1:], stdout, logger)
	case "analyze":
		return runAnalyze(args[1:], stdout, logger)
	case "convert":
		return runConvert(args[1:], logger)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// ValidationReport is printed by validate
type ValidationReport struct {
	Total   int            `json:"total"`
	Valid   int            `json:"valid"`
	Invalid int            `json:"invalid"`
	Rows    []RowViolation `json:"rows,omitempty"`
}

// RowViolation lists the violations of one input row, numbered from 1
type RowViolation struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	in := fs.String("in", "", "input file (.csv or .json)")
	format := fs.String("format", "", "input format, inferred from the extension when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	readings, err := readFile(*in, *format)
	if err != nil {
		return err
	}

	report := ValidationReport{Total: len(readings)}
	for i, r := range readings {
		res := validation.ValidateReading(r)
		if res.Valid {
			report.Valid++
			continue
		}
		report.Invalid++
		report.Rows = append(report.Rows, RowViolation{Row: i + 1, Errors: res.Errors})
	}

	if err := writeJSON(stdout, report); err != nil {
		return err
	}
	if report.Invalid > 0 {
		return errInvalid
	}
	return nil
}

func runClean(args []string, stdout io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	in := fs.String("in", "", "input file (.csv or .json)")
	out := fs.String("out", "", "output file for the cleaned readings")
	configPath := fs.String("config", "", "server config supplying the processing options")
	format := fs.String("format", "", "input format, inferred from the extension when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("clean: -out is required")
	}

	readings, err := readFile(*in, *format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	res := processing.Clean(readings, cfg.Processing)
	for _, w := range res.Report.Warnings {
		logger.Warn().Str("stage", w.Stage).Msg(w.Message)
	}
	if err := writeFile(*out, res.Cleaned); err != nil {
		return err
	}
	logger.Info().Int("input", len(readings)).Int("output", len(res.Cleaned)).Str("out", *out).Msg("Cleaned readings written")

	return writeJSON(stdout, res.Report)
}

func runAnalyze(args []string, stdout io.Writer, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	in := fs.String("in", "", "input file (.csv or .json)")
	configPath := fs.String("config", "", "server config supplying processing and analytics settings")
	raw := fs.Bool("raw", false, "analyze the readings as read, without cleaning")
	asOf := fs.String("as-of", "", "reference time for health scoring; defaults to the newest reading")
	format := fs.String("format", "", "input format, inferred from the extension when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	readings, err := readFile(*in, *format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	now := newest(readings)
	if *asOf != "" {
		if now, err = validation.ParseTimestamp(*asOf); err != nil {
			return fmt.Errorf("as-of: %w", err)
		}
	}

	type output struct {
		Analytics analytics.Result          `json:"analytics"`
		Quality   *processing.QualityReport `json:"quality,omitempty"`
	}
	var result output

	snapshot := readings
	if !*raw {
		cleaned := processing.Clean(readings, cfg.Processing)
		snapshot = cleaned.Cleaned
		result.Quality = &cleaned.Report
	}
	result.Analytics = analytics.NewEngine(cfg.Analytics).Analyze(snapshot, now)
	logger.Info().Int("readings", len(snapshot)).Int("anomalies", len(result.Analytics.Anomalies)).Msg("Analysis complete")

	return writeJSON(stdout, result)
}

func runConvert(args []string, logger zerolog.Logger) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	in := fs.String("in", "", "input file (.csv or .json)")
	out := fs.String("out", "", "output file (.csv or .json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("convert: -out is required")
	}

	readings, err := readFile(*in, "")
	if err != nil {
		return err
	}
	if err := writeFile(*out, readings); err != nil {
		return err
	}
	logger.Info().Int("readings", len(readings)).Str("out", *out).Msg("File converted")
	return nil
}

// loadConfig returns the server config at path, or the defaults
func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg := config.DefaultAppConfig()
		return &cfg, nil
	}
	return config.LoadAppConfig(path)
}

func formatOf(path, explicit string) (export.Format, error) {
	if explicit != "" {
		return export.ParseFormat(explicit)
	}
	return export.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func readFile(path, format string) ([]models.Reading, error) {
	if path == "" {
		return nil, errors.New("-in is required")
	}
	f, err := formatOf(path, format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	readings, err := export.Parse(file, f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return readings, nil
}

func writeFile(path string, readings []models.Reading) error {
	f, err := formatOf(path, "")
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Export(file, readings, f); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

// newest returns the latest timestamp in readings, or now when empty
func newest(readings []models.Reading) time.Time {
	var t time.Time
	for _, r := range readings {
		if r.Timestamp.After(t) {
			t = r.Timestamp
		}
	}
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
