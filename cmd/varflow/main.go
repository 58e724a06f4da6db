// Command varflow chains the external variant post-processing tools over a
// set of per-sample raw variant calls: genotyping, SNP/indel selection and
// recalibration, recombination, annotation and evaluation, followed by one
// aggregated run report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	arg "github.com/alexflint/go-arg"
	"github.com/valyala/fasttemplate"

	"github.com/pharmbio/varflow/internal/config"
	"github.com/pharmbio/varflow/internal/ctxlog"
	"github.com/pharmbio/varflow/internal/pipeline"
	"github.com/pharmbio/varflow/internal/report"
	"github.com/pharmbio/varflow/internal/resources"
)

const version = "0.4.0"

type cliArgs struct {
	Reads  []string `arg:"--reads,required" help:"glob(s) of per-sample raw variant-call files"`
	Genome string   `arg:"--genome,required" help:"genome identifier (e.g. GRCh37)"`
	Kit    string   `arg:"--kit" help:"capture kit identifier"`

	Bait      string `arg:"--bait" help:"override: bait interval list"`
	Target    string `arg:"--target" help:"override: target interval list"`
	TargetBed string `arg:"--target-bed" help:"override: target regions BED"`
	DbSNP     string `arg:"--dbsnp" help:"override: dbSNP VCF"`
	ThousandG string `arg:"--thousandg" help:"override: 1000G indels VCF"`
	Mills     string `arg:"--mills" help:"override: Mills indels VCF"`
	Omni      string `arg:"--omni" help:"override: Omni VCF"`
	GFasta    string `arg:"--gfasta" help:"override: genome fasta"`
	BwaIndex  string `arg:"--bwa-index" help:"override: BWA index prefix"`

	Tables           string `arg:"--resource-tables" help:"YAML file with extra kit/genome rows"`
	OutDir           string `arg:"--outdir" default:"results" help:"results directory"`
	Cores            int    `arg:"--cores" help:"global core budget (default from VARFLOW_CORES)"`
	KeepIntermediate bool   `arg:"--keep-intermediate" help:"keep per-stage intermediate files"`
}

func (cliArgs) Version() string { return "varflow " + version }

func main() {
	os.Exit(run())
}

func run() int {
	var cli cliArgs
	parser, err := arg.NewParser(arg.Config{Program: "varflow"}, &cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := parser.Parse(os.Args[1:]); err != nil {
		if err == arg.ErrHelp {
			parser.WriteHelp(os.Stdout)
			return 0
		}
		if err == arg.ErrVersion {
			fmt.Println(cli.Version())
			return 0
		}
		fmt.Fprintf(os.Stderr, "varflow: %v\n", err)
		parser.WriteUsage(os.Stderr)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	env, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "varflow: %v\n", err)
		return 1
	}

	tables := resources.BuiltinTables(env.ResourceRoot)
	if cli.Tables != "" {
		tables, err = resources.LoadTables(tables, cli.Tables)
		if err != nil {
			fmt.Fprintf(os.Stderr, "varflow: %v\n", err)
			return 1
		}
	}
	bundle, err := resources.Resolve(tables, cli.Kit, cli.Genome, resources.Bundle{
		Bait:      cli.Bait,
		Target:    cli.Target,
		TargetBed: cli.TargetBed,
		DbSNP:     cli.DbSNP,
		ThousandG: cli.ThousandG,
		Mills:     cli.Mills,
		Omni:      cli.Omni,
		GFasta:    cli.GFasta,
		BwaIndex:  cli.BwaIndex,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "varflow: %v\n", err)
		return 1
	}

	var readPaths []string
	for _, pattern := range cli.Reads {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "varflow: bad --reads pattern %q: %v\n", pattern, err)
			return 1
		}
		readPaths = append(readPaths, matches...)
	}
	if len(readPaths) == 0 {
		fmt.Fprintln(os.Stderr, "varflow: --reads matched no files")
		return 1
	}
	samples, err := pipeline.SampleKeys(readPaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "varflow: %v\n", err)
		return 1
	}

	fmt.Fprint(os.Stderr, preflight(env))

	cores := cli.Cores
	if cores == 0 {
		cores = env.Cores
	}
	p := pipeline.New(env, bundle, samples, pipeline.Options{
		OutDir:           cli.OutDir,
		Cores:            cores,
		KeepIntermediate: cli.KeepIntermediate,
	})

	runErr := p.Run(ctx)

	// The report always aggregates whatever the run produced, failures
	// included; a reporting problem never changes the exit status of a
	// successful run into a failure or vice versa.
	summary := report.Build(ctx, p, p.WF.Failures())
	if err := report.Write(cli.OutDir, summary); err != nil {
		logger.Warn("could not write run report", "error", err)
	}

	if runErr != nil {
		logger.Error("pipeline failed", "error", runErr)
		return 1
	}
	logger.Info("pipeline complete", "samples", len(samples), "outdir", cli.OutDir)
	return 0
}

// preflight reports which external collaborators look launchable. It only
// warns; the tools are not contacted until their stage runs.
func preflight(env config.Env) string {
	tmpl := `varflow {{version}}

external tools ('Y' = found):

 [{{java}}] {{javacmd}}
 [{{gatk}}] {{gatkjar}}
 [{{snpeff}}] {{snpeffjar}}

`
	t := fasttemplate.New(tmpl, "{{", "}}")
	return t.ExecuteString(map[string]interface{}{
		"version":   version,
		"java":      hasProg(env.Java),
		"javacmd":   env.Java,
		"gatk":      hasFile(env.GatkJar),
		"gatkjar":   env.GatkJar,
		"snpeff":    hasFile(env.SnpEffJar),
		"snpeffjar": env.SnpEffJar,
	})
}

func hasProg(prog string) string {
	if _, err := exec.LookPath(prog); err == nil {
		return "Y"
	}
	return " "
}

func hasFile(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "Y"
	}
	return " "
}
