// Package stages is the component library of the pipeline: one type per
// external tool invocation, each wrapping a flow.Process with typed port
// accessors. Every output file name derives only from the stage's own bound
// run key.
package stages

import (
	"path/filepath"
	"strconv"

	"github.com/pharmbio/varflow/internal/config"
	"github.com/pharmbio/varflow/internal/flow"
	"github.com/pharmbio/varflow/internal/resources"
)

// Stage output directory names under the results root.
const (
	GenotypeDir = "genotype"
	SelectDir   = "select"
	RecalDir    = "recal"
	CombineDir  = "combine"
	SnpEffDir   = "snpeff"
	AnnotateDir = "annotate"
	EvalDir     = "eval"
)

// ----------------------------------------------------------------------------
// GATK GenotypeGVCFs
// ----------------------------------------------------------------------------

type GenotypeGVCFs struct {
	*flow.Process
}

func NewGenotypeGVCFs(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *GenotypeGVCFs {
	// Thread as wide as GenotypeGVCFs profitably goes, but never wider
	// than the run's core budget, which the scheduler books per task.
	threads := 4
	if wf.MaxCores() < threads {
		threads = wf.MaxCores()
	}
	tpl := env.GATK() + ` -T GenotypeGVCFs \
		-R ` + b.GFasta + ` \
		--dbsnp ` + b.DbSNP + ` \
		-L ` + b.Target + ` \
		-nt ` + strconv.Itoa(threads) + ` \
		--variant {i:gvcf} \
		-o {o:vcf}`
	p := wf.NewProc(name, tpl)
	p.SetCores(threads)
	p.SetPathFunc("vcf", func(t *flow.Task) string {
		return filepath.Join(outDir, GenotypeDir, t.Key+"_gvcf.vcf")
	})
	return &GenotypeGVCFs{p}
}

func (p *GenotypeGVCFs) InGVCF() *flow.InPort  { return p.In("gvcf") }
func (p *GenotypeGVCFs) OutVCF() *flow.OutPort { return p.Out("vcf") }

// ----------------------------------------------------------------------------
// GATK SelectVariants (SNP / indel fan-out)
// ----------------------------------------------------------------------------

// SelectVariants splits a genotyped VCF into a SNP-only and an indel-only
// subset in one stage, so both subsets carry the same run key.
type SelectVariants struct {
	*flow.Process
}

func NewSelectVariants(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *SelectVariants {
	tpl := env.GATK() + ` -T SelectVariants \
		-R ` + b.GFasta + ` \
		-V {i:vcf} \
		-selectType SNP \
		-o {o:snp} && \
	` + env.GATK() + ` -T SelectVariants \
		-R ` + b.GFasta + ` \
		-V {i:vcf} \
		-selectType INDEL \
		-o {o:indel}`
	p := wf.NewProc(name, tpl)
	p.SetPathFunc("snp", func(t *flow.Task) string {
		return filepath.Join(outDir, SelectDir, t.Key+"_snp.vcf")
	})
	p.SetPathFunc("indel", func(t *flow.Task) string {
		return filepath.Join(outDir, SelectDir, t.Key+"_indel.vcf")
	})
	return &SelectVariants{p}
}

func (p *SelectVariants) InVCF() *flow.InPort     { return p.In("vcf") }
func (p *SelectVariants) OutSNP() *flow.OutPort   { return p.Out("snp") }
func (p *SelectVariants) OutIndel() *flow.OutPort { return p.Out("indel") }

// ----------------------------------------------------------------------------
// GATK VariantRecalibrator + ApplyRecalibration, SNP branch
// ----------------------------------------------------------------------------

type RecalibrateSNPs struct {
	*flow.Process
}

func NewRecalibrateSNPs(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *RecalibrateSNPs {
	recalDir := filepath.Join(outDir, RecalDir)
	tpl := env.GATK() + ` -T VariantRecalibrator \
		-R ` + b.GFasta + ` \
		-input {i:snp} \
		-resource:omni,known=false,training=true,truth=true,prior=12.0 ` + b.Omni + ` \
		-resource:1000G,known=false,training=true,truth=false,prior=10.0 ` + b.ThousandG + ` \
		-resource:dbsnp,known=true,training=false,truth=false,prior=2.0 ` + b.DbSNP + ` \
		-an QD -an MQ -an FS -an ReadPosRankSum \
		-mode SNP \
		-recalFile ` + recalDir + `/{key}_snp.recal \
		-tranchesFile ` + recalDir + `/{key}_snp.tranches && \
	` + env.GATK() + ` -T ApplyRecalibration \
		-R ` + b.GFasta + ` \
		-input {i:snp} \
		-recalFile ` + recalDir + `/{key}_snp.recal \
		-tranchesFile ` + recalDir + `/{key}_snp.tranches \
		--ts_filter_level 99.0 \
		-mode SNP \
		-o {o:recal}`
	p := wf.NewProc(name, tpl)
	p.SetCores(4)
	p.SetPathFunc("recal", func(t *flow.Task) string {
		return filepath.Join(outDir, RecalDir, t.Key+"_filtered_snp.vcf")
	})
	return &RecalibrateSNPs{p}
}

func (p *RecalibrateSNPs) InSNP() *flow.InPort     { return p.In("snp") }
func (p *RecalibrateSNPs) OutRecal() *flow.OutPort { return p.Out("recal") }

// ----------------------------------------------------------------------------
// GATK VariantRecalibrator + ApplyRecalibration, indel branch
// ----------------------------------------------------------------------------

type RecalibrateIndels struct {
	*flow.Process
}

func NewRecalibrateIndels(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *RecalibrateIndels {
	recalDir := filepath.Join(outDir, RecalDir)
	tpl := env.GATK() + ` -T VariantRecalibrator \
		-R ` + b.GFasta + ` \
		-input {i:indel} \
		-resource:mills,known=true,training=true,truth=true,prior=12.0 ` + b.Mills + ` \
		-an QD -an FS -an ReadPosRankSum \
		-mode INDEL \
		-recalFile ` + recalDir + `/{key}_indel.recal \
		-tranchesFile ` + recalDir + `/{key}_indel.tranches && \
	` + env.GATK() + ` -T ApplyRecalibration \
		-R ` + b.GFasta + ` \
		-input {i:indel} \
		-recalFile ` + recalDir + `/{key}_indel.recal \
		-tranchesFile ` + recalDir + `/{key}_indel.tranches \
		--ts_filter_level 99.0 \
		-mode INDEL \
		-o {o:recal}`
	p := wf.NewProc(name, tpl)
	p.SetCores(4)
	p.SetPathFunc("recal", func(t *flow.Task) string {
		return filepath.Join(outDir, RecalDir, t.Key+"_filtered_indel.vcf")
	})
	return &RecalibrateIndels{p}
}

func (p *RecalibrateIndels) InIndel() *flow.InPort   { return p.In("indel") }
func (p *RecalibrateIndels) OutRecal() *flow.OutPort { return p.Out("recal") }

// ----------------------------------------------------------------------------
// GATK CombineVariants (keyed fan-in of the two branches)
// ----------------------------------------------------------------------------

type CombineVariants struct {
	*flow.Process
}

func NewCombineVariants(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *CombineVariants {
	tpl := env.GATK() + ` -T CombineVariants \
		-R ` + b.GFasta + ` \
		-V:snp {i:snp} \
		-V:indel {i:indel} \
		--genotypemergeoption PRIORITIZE \
		-priority snp,indel \
		-o {o:combined}`
	p := wf.NewProc(name, tpl)
	p.SetPathFunc("combined", func(t *flow.Task) string {
		return filepath.Join(outDir, CombineDir, t.Key+"_combined.vcf")
	})
	return &CombineVariants{p}
}

func (p *CombineVariants) InSNP() *flow.InPort        { return p.In("snp") }
func (p *CombineVariants) InIndel() *flow.InPort      { return p.In("indel") }
func (p *CombineVariants) OutCombined() *flow.OutPort { return p.Out("combined") }

// ----------------------------------------------------------------------------
// SnpEff annotation
// ----------------------------------------------------------------------------

type SnpEffAnnotate struct {
	*flow.Process
}

func NewSnpEffAnnotate(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *SnpEffAnnotate {
	statsDir := filepath.Join(outDir, SnpEffDir)
	filterArg := ""
	if b.TargetBed != "" {
		filterArg = ` -fi ` + b.TargetBed
	}
	tpl := env.SnpEff() + ` -v` + filterArg + ` \
		-stats ` + statsDir + `/{key}_summary.html \
		` + env.SnpEffDB + ` {i:vcf} > {o:snpeff}`
	p := wf.NewProc(name, tpl)
	p.SetPathFunc("snpeff", func(t *flow.Task) string {
		return filepath.Join(outDir, SnpEffDir, t.Key+"_snpeff.vcf")
	})
	return &SnpEffAnnotate{p}
}

func (p *SnpEffAnnotate) InVCF() *flow.InPort      { return p.In("vcf") }
func (p *SnpEffAnnotate) OutSnpEff() *flow.OutPort { return p.Out("snpeff") }

// ----------------------------------------------------------------------------
// GATK VariantAnnotator (folds the SnpEff annotations back in)
// ----------------------------------------------------------------------------

type GATKAnnotate struct {
	*flow.Process
}

func NewGATKAnnotate(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *GATKAnnotate {
	tpl := env.GATK() + ` -T VariantAnnotator \
		-R ` + b.GFasta + ` \
		-V {i:vcf} \
		--snpEffFile {i:snpeff} \
		-A SnpEff \
		-o {o:annotated}`
	p := wf.NewProc(name, tpl)
	p.SetPathFunc("annotated", func(t *flow.Task) string {
		return filepath.Join(outDir, AnnotateDir, t.Key+"_annotated.vcf")
	})
	return &GATKAnnotate{p}
}

func (p *GATKAnnotate) InVCF() *flow.InPort         { return p.In("vcf") }
func (p *GATKAnnotate) InSnpEff() *flow.InPort      { return p.In("snpeff") }
func (p *GATKAnnotate) OutAnnotated() *flow.OutPort { return p.Out("annotated") }

// ----------------------------------------------------------------------------
// GATK VariantEval
// ----------------------------------------------------------------------------

type VariantEval struct {
	*flow.Process
}

func NewVariantEval(wf *flow.Workflow, name string, env config.Env, b resources.Bundle, outDir string) *VariantEval {
	tpl := env.GATK() + ` -T VariantEval \
		-R ` + b.GFasta + ` \
		--eval {i:vcf} \
		--dbsnp ` + b.DbSNP + ` \
		-ST Sample \
		-o {o:report}`
	p := wf.NewProc(name, tpl)
	p.SetPathFunc("report", func(t *flow.Task) string {
		return filepath.Join(outDir, EvalDir, t.Key+"_eval.txt")
	})
	return &VariantEval{p}
}

func (p *VariantEval) InVCF() *flow.InPort      { return p.In("vcf") }
func (p *VariantEval) OutReport() *flow.OutPort { return p.Out("report") }
