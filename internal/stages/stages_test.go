package stages

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmbio/varflow/internal/config"
	"github.com/pharmbio/varflow/internal/flow"
	"github.com/pharmbio/varflow/internal/resources"
)

func testEnv() config.Env {
	return config.Env{
		Java:      "java",
		JavaOpts:  "-Xmx3g",
		GatkJar:   "/apps/GenomeAnalysisTK.jar",
		SnpEffJar: "/apps/snpEff.jar",
		SnpEffDB:  "GRCh37.75",
	}
}

func testBundle() resources.Bundle {
	return resources.Bundle{
		Bait:      "/res/baits.interval_list",
		Target:    "/res/targets.interval_list",
		TargetBed: "/res/targets.bed",
		DbSNP:     "/res/dbsnp.vcf",
		ThousandG: "/res/1000g.vcf",
		Mills:     "/res/mills.vcf",
		Omni:      "/res/omni.vcf",
		GFasta:    "/res/genome.fasta",
		BwaIndex:  "/res/genome.fasta",
	}
}

func TestGenotypeGVCFsCommand(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	p := NewGenotypeGVCFs(wf, "genotype_gvcfs", testEnv(), testBundle(), "out")

	tpl := p.CommandTemplate()
	assert.Contains(t, tpl, "java -Xmx3g -jar /apps/GenomeAnalysisTK.jar -T GenotypeGVCFs")
	assert.Contains(t, tpl, "-R /res/genome.fasta")
	assert.Contains(t, tpl, "--dbsnp /res/dbsnp.vcf")
	assert.Contains(t, tpl, "-L /res/targets.interval_list")
	assert.Contains(t, tpl, "--variant {i:gvcf}")
	assert.Contains(t, tpl, "-o {o:vcf}")
	require.NotNil(t, p.InGVCF())
	require.NotNil(t, p.OutVCF())
}

func TestGenotypeGVCFsThreadsWithinCoreBudget(t *testing.T) {
	wf := flow.NewWorkflow("wf", 2, t.TempDir())
	p := NewGenotypeGVCFs(wf, "genotype_gvcfs", testEnv(), testBundle(), "out")
	assert.Contains(t, p.CommandTemplate(), "-nt 2")
	assert.NotContains(t, p.CommandTemplate(), "-nt 4")

	wf = flow.NewWorkflow("wf", 8, t.TempDir())
	p = NewGenotypeGVCFs(wf, "genotype_gvcfs", testEnv(), testBundle(), "out")
	assert.Contains(t, p.CommandTemplate(), "-nt 4")
}

func TestSelectVariantsFansOutBothSubsets(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	p := NewSelectVariants(wf, "select_variants", testEnv(), testBundle(), "out")

	tpl := p.CommandTemplate()
	assert.Contains(t, tpl, "-selectType SNP")
	assert.Contains(t, tpl, "-selectType INDEL")
	assert.Contains(t, tpl, "-o {o:snp}")
	assert.Contains(t, tpl, "-o {o:indel}")
	require.NotNil(t, p.OutSNP())
	require.NotNil(t, p.OutIndel())
}

func TestRecalibrateBranchesUseTheirOwnResources(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	snp := NewRecalibrateSNPs(wf, "recalibrate_snps", testEnv(), testBundle(), "out")
	indel := NewRecalibrateIndels(wf, "recalibrate_indels", testEnv(), testBundle(), "out")

	assert.Contains(t, snp.CommandTemplate(), "/res/omni.vcf")
	assert.Contains(t, snp.CommandTemplate(), "/res/1000g.vcf")
	assert.Contains(t, snp.CommandTemplate(), "-mode SNP")
	assert.NotContains(t, snp.CommandTemplate(), "/res/mills.vcf")

	assert.Contains(t, indel.CommandTemplate(), "/res/mills.vcf")
	assert.Contains(t, indel.CommandTemplate(), "-mode INDEL")
	assert.NotContains(t, indel.CommandTemplate(), "/res/omni.vcf")

	// The recalibration scratch files are keyed, so two samples in flight
	// can never clobber each other.
	assert.Contains(t, snp.CommandTemplate(), "{key}_snp.recal")
	assert.Contains(t, indel.CommandTemplate(), "{key}_indel.recal")
}

func TestCombineVariantsDeclaresBothBranchInputs(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	p := NewCombineVariants(wf, "combine_variants", testEnv(), testBundle(), "out")

	tpl := p.CommandTemplate()
	assert.Contains(t, tpl, "-V:snp {i:snp}")
	assert.Contains(t, tpl, "-V:indel {i:indel}")
	assert.Contains(t, tpl, "-priority snp,indel")
	require.NotNil(t, p.InSNP())
	require.NotNil(t, p.InIndel())
}

func TestSnpEffAnnotateCommand(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	p := NewSnpEffAnnotate(wf, "snpeff_annotate", testEnv(), testBundle(), "out")

	tpl := p.CommandTemplate()
	assert.Contains(t, tpl, "java -Xmx3g -jar /apps/snpEff.jar")
	assert.Contains(t, tpl, "GRCh37.75 {i:vcf}")
	assert.Contains(t, tpl, "-fi /res/targets.bed")
	assert.Contains(t, tpl, "> {o:snpeff}")
}

func TestSnpEffAnnotateWithoutTargetBed(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	b := testBundle()
	b.TargetBed = ""
	p := NewSnpEffAnnotate(wf, "snpeff_annotate", testEnv(), b, "out")

	assert.NotContains(t, p.CommandTemplate(), "-fi")
}

func TestGATKAnnotateFoldsSnpEffBackIn(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	p := NewGATKAnnotate(wf, "gatk_annotate", testEnv(), testBundle(), "out")

	tpl := p.CommandTemplate()
	assert.Contains(t, tpl, "-T VariantAnnotator")
	assert.Contains(t, tpl, "--snpEffFile {i:snpeff}")
	assert.Contains(t, tpl, "-A SnpEff")
	require.NotNil(t, p.InVCF())
	require.NotNil(t, p.InSnpEff())
}

func TestVariantEvalCommand(t *testing.T) {
	wf := flow.NewWorkflow("wf", 1, t.TempDir())
	p := NewVariantEval(wf, "variant_eval", testEnv(), testBundle(), "out")

	tpl := p.CommandTemplate()
	assert.Contains(t, tpl, "-T VariantEval")
	assert.Contains(t, tpl, "--eval {i:vcf}")
	assert.Contains(t, tpl, "--dbsnp /res/dbsnp.vcf")
}

func TestStageDirectoriesAreDistinct(t *testing.T) {
	dirs := []string{GenotypeDir, SelectDir, RecalDir, CombineDir, SnpEffDir, AnnotateDir, EvalDir}
	seen := map[string]bool{}
	for _, d := range dirs {
		assert.False(t, seen[d], "duplicate stage dir %q", d)
		seen[d] = true
		assert.Equal(t, filepath.Base(d), d)
	}
}
