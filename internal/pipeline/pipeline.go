// Package pipeline wires the stage components into the variant
// post-processing graph: genotyping, SNP/indel fan-out, per-type
// recalibration, keyed recombination, annotation and evaluation.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pharmbio/varflow/internal/config"
	"github.com/pharmbio/varflow/internal/flow"
	"github.com/pharmbio/varflow/internal/resources"
	"github.com/pharmbio/varflow/internal/stages"
)

// Options are the run-level knobs of a pipeline build.
type Options struct {
	OutDir           string
	Cores            int
	KeepIntermediate bool
}

// Pipeline is one built workflow over a fixed set of samples.
type Pipeline struct {
	WF      *flow.Workflow
	OutDir  string
	Samples map[string]string

	keep bool
}

// SampleKeys derives the run key for each reads file: the base name with its
// variant-call extension stripped. The key is assigned here, once, and is
// immutable through the whole chain. Two files collapsing to the same key is
// an input error.
func SampleKeys(readPaths []string) (map[string]string, error) {
	samples := map[string]string{}
	for _, path := range readPaths {
		key := filepath.Base(path)
		for _, ext := range []string{".gz", ".vcf", ".gvcf", ".g"} {
			key = strings.TrimSuffix(key, ext)
		}
		if key == "" {
			return nil, fmt.Errorf("cannot derive a sample name from %q", path)
		}
		if prev, dup := samples[key]; dup {
			return nil, fmt.Errorf("sample name %q is ambiguous: %s and %s", key, prev, path)
		}
		samples[key] = path
	}
	return samples, nil
}

// New builds the full stage graph for the given samples (run key to raw
// per-sample variant calls). Nothing executes until Run.
func New(env config.Env, b resources.Bundle, samples map[string]string, opts Options) *Pipeline {
	wf := flow.NewWorkflow("varflow", opts.Cores, filepath.Join(opts.OutDir, "logs"))

	rawCalls := wf.NewSource("raw_calls", samples)

	genotype := stages.NewGenotypeGVCFs(wf, "genotype_gvcfs", env, b, opts.OutDir)
	genotype.InGVCF().Connect(rawCalls.Out())

	// Fan-out: SNP and indel subsets leave one stage with one key.
	selectVars := stages.NewSelectVariants(wf, "select_variants", env, b, opts.OutDir)
	selectVars.InVCF().Connect(genotype.OutVCF())

	recalSNPs := stages.NewRecalibrateSNPs(wf, "recalibrate_snps", env, b, opts.OutDir)
	recalSNPs.InSNP().Connect(selectVars.OutSNP())

	recalIndels := stages.NewRecalibrateIndels(wf, "recalibrate_indels", env, b, opts.OutDir)
	recalIndels.InIndel().Connect(selectVars.OutIndel())

	// Fan-in: both branches must carry the same run key before combining.
	combine := stages.NewCombineVariants(wf, "combine_variants", env, b, opts.OutDir)
	combine.InSNP().Connect(recalSNPs.OutRecal())
	combine.InIndel().Connect(recalIndels.OutRecal())

	// The combined set fans out to its three consumers.
	snpEff := stages.NewSnpEffAnnotate(wf, "snpeff_annotate", env, b, opts.OutDir)
	snpEff.InVCF().Connect(combine.OutCombined())

	annotate := stages.NewGATKAnnotate(wf, "gatk_annotate", env, b, opts.OutDir)
	annotate.InVCF().Connect(combine.OutCombined())
	annotate.InSnpEff().Connect(snpEff.OutSnpEff())

	eval := stages.NewVariantEval(wf, "variant_eval", env, b, opts.OutDir)
	eval.InVCF().Connect(combine.OutCombined())

	return &Pipeline{WF: wf, OutDir: opts.OutDir, Samples: samples, keep: opts.KeepIntermediate}
}

// Run executes the workflow. On a fully successful run the intermediate
// stage directories are removed unless retention was requested; on any
// failure everything is kept for diagnosis.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.WF.Run(ctx); err != nil {
		return err
	}
	if !p.keep {
		for _, dir := range []string{stages.GenotypeDir, stages.SelectDir, stages.RecalDir} {
			os.RemoveAll(filepath.Join(p.OutDir, dir))
		}
	}
	return nil
}

// Keys returns the run keys in deterministic order.
func (p *Pipeline) Keys() []string {
	keys := make([]string, 0, len(p.Samples))
	for key := range p.Samples {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CombinedVCF returns where the combined variant set for a key lands.
func (p *Pipeline) CombinedVCF(key string) string {
	return filepath.Join(p.OutDir, stages.CombineDir, key+"_combined.vcf")
}

// AnnotatedVCF returns where the fully annotated variant set for a key lands.
func (p *Pipeline) AnnotatedVCF(key string) string {
	return filepath.Join(p.OutDir, stages.AnnotateDir, key+"_annotated.vcf")
}

// EvalReport returns where the evaluation report for a key lands.
func (p *Pipeline) EvalReport(key string) string {
	return filepath.Join(p.OutDir, stages.EvalDir, key+"_eval.txt")
}
