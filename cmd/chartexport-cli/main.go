// Command chartexport-cli runs single-shot or batch exports against the
// same core the HTTP server uses, without needing a listener.
//
// Usage:
//
//	chartexport-cli --infile chart.json --type png --outfile chart.png
//	chartexport-cli --batch "a.json=a.png;b.json=b.jpeg"
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"chartexport/internal/config"
	"chartexport/internal/export"
	"chartexport/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("chartexport-cli", pflag.ContinueOnError)
	infile := flags.String("infile", "", "path to a JSON chart-options file")
	svgFile := flags.String("svg", "", "path to an inline SVG document")
	outfile := flags.String("outfile", "", "explicit output path; wins over the synthesized chart.<ext> name, §9 Open Question 1")
	typ := flags.String("type", "png", "output format: png, jpeg, pdf, svg")
	constr := flags.String("constr", "chart", "constructor: chart, stockChart, mapChart, ganttChart")
	scale := flags.Float64("scale", 1, "device pixel ratio, clamped to [0.1, 5.0]")
	batch := flags.String("batch", "", "semicolon-separated list of input=output pairs, §4.5 Batch")
	loadConfig := flags.String("loadConfig", "", "path to a JSON config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 1
	}

	var cfg *config.Config
	var err error
	if *loadConfig != "" {
		cfg, err = config.NewLoader(config.WithConfigFile(*loadConfig)).Load()
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "chartexport-cli: config:", err)
		return 1
	}

	logging.Init(cfg.Log.Level)
	log := logging.Log

	orch := export.NewOrchestrator(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pool.CreateTimeout*time.Duration(cfg.Pool.Max+1))
	err = orch.InitExport(ctx)
	cancel()
	if err != nil {
		log.Fatal("chartexport-cli: init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		orch.Shutdown(shutdownCtx)
	}()

	if *batch != "" {
		return runBatch(orch, *batch)
	}
	return runSingle(orch, *infile, *svgFile, *outfile, *typ, *constr, *scale)
}

func runSingle(orch *export.Orchestrator, infile, svgFile, outfile, typ, constr string, scale float64) int {
	req, err := buildRequest(infile, svgFile, typ, constr, scale)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chartexport-cli:", err)
		return 1
	}

	artifact, err := orch.Export(context.Background(), req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chartexport-cli: export failed:", err)
		return 1
	}

	path := resolveOutfile(outfile, "chart", artifact.Format)
	if err := os.WriteFile(path, artifact.Bytes, 0644); err != nil {
		fmt.Fprintln(os.Stderr, "chartexport-cli: write failed:", err)
		return 1
	}
	return 0
}

func runBatch(orch *export.Orchestrator, batch string) int {
	pairs := strings.Split(batch, ";")
	items := make([]export.BatchItem, 0, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "chartexport-cli: malformed batch pair %q\n", pair)
			return 1
		}
		in, out := parts[0], parts[1]
		typ := strings.TrimPrefix(extOf(out), ".")
		req, err := buildRequest(in, "", typ, "chart", 1)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chartexport-cli: %s: %v\n", pair, err)
			return 1
		}
		items = append(items, export.BatchItem{Label: out, Request: req})
	}

	results := orch.BatchExport(context.Background(), items)

	exit := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "chartexport-cli: %s failed: %v\n", res.Label, res.Err)
			exit = 1
			continue
		}
		if err := os.WriteFile(res.Label, res.Artifact.Bytes, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "chartexport-cli: %s write failed: %v\n", res.Label, err)
			exit = 1
		}
	}
	return exit
}

func buildRequest(infile, svgFile, typ, constr string, scale float64) (*export.RenderRequest, error) {
	format, err := export.ParseOutputFormat(typ)
	if err != nil {
		return nil, err
	}
	constructor, err := export.ParseConstructor(constr)
	if err != nil {
		return nil, err
	}

	req := &export.RenderRequest{
		OutputFormat: format,
		Constructor:  constructor,
		Scale:        scale,
	}

	switch {
	case svgFile != "":
		doc, err := os.ReadFile(svgFile)
		if err != nil {
			return nil, fmt.Errorf("reading svg %s: %w", svgFile, err)
		}
		req.SVGDocument = string(doc)
	case infile != "":
		doc, err := os.ReadFile(infile)
		if err != nil {
			return nil, fmt.Errorf("reading infile %s: %w", infile, err)
		}
		req.ChartOptions = doc
	default:
		return nil, fmt.Errorf("one of -infile or -svg is required")
	}

	return req, nil
}

// resolveOutfile implements §9 Open Question 1: an explicit outfile always
// wins; otherwise chart.<ext> is synthesized from the output format.
func resolveOutfile(outfile, base string, format export.OutputFormat) string {
	if outfile != "" {
		return outfile
	}
	return base + format.Extension()
}

func extOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[idx:]
}
