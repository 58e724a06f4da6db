// Package resources maps logical genome and capture-kit names to the bundle
// of reference file paths the pipeline stages need.
package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bundle is the resolved set of reference and resource paths for one
// genome+kit combination. It is resolved once at startup and read-only
// afterwards.
type Bundle struct {
	Bait      string `yaml:"bait"`
	Target    string `yaml:"target"`
	TargetBed string `yaml:"target_bed"`
	DbSNP     string `yaml:"dbsnp"`
	ThousandG string `yaml:"thousandg"`
	Mills     string `yaml:"mills"`
	Omni      string `yaml:"omni"`
	GFasta    string `yaml:"gfasta"`
	BwaIndex  string `yaml:"bwa_index"`
}

// KitEntry is one row of the kit table.
type KitEntry struct {
	Bait      string `yaml:"bait"`
	Target    string `yaml:"target"`
	TargetBed string `yaml:"target_bed"`
}

// GenomeEntry is one row of the genome table.
type GenomeEntry struct {
	DbSNP     string `yaml:"dbsnp"`
	ThousandG string `yaml:"thousandg"`
	Mills     string `yaml:"mills"`
	Omni      string `yaml:"omni"`
	GFasta    string `yaml:"gfasta"`
	BwaIndex  string `yaml:"bwa_index"`
}

// Tables holds the two lookup tables. The zero value is empty; use
// BuiltinTables for the compiled-in defaults or LoadTables to extend them
// from a YAML file.
type Tables struct {
	Kits    map[string]KitEntry    `yaml:"kits"`
	Genomes map[string]GenomeEntry `yaml:"genomes"`
}

// ConfigError reports an unresolvable bundle: the named table had no entry
// and not all of the required fields were supplied explicitly. It is always
// raised before any stage executes.
type ConfigError struct {
	Table   string // "kit" or "genome"
	Name    string
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("no %s configuration for %q: missing parameter(s) %s",
		e.Table, e.Name, strings.Join(e.Missing, ", "))
}

// BuiltinTables returns the compiled-in kit and genome tables, with every
// path relative to root.
func BuiltinTables(root string) Tables {
	j := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }
	return Tables{
		Kits: map[string]KitEntry{
			"agilent_sureselect_v4": {
				Bait:      j("kits", "sureselect_v4", "baits.interval_list"),
				Target:    j("kits", "sureselect_v4", "targets.interval_list"),
				TargetBed: j("kits", "sureselect_v4", "targets.bed"),
			},
			"agilent_sureselect_v5": {
				Bait:      j("kits", "sureselect_v5", "baits.interval_list"),
				Target:    j("kits", "sureselect_v5", "targets.interval_list"),
				TargetBed: j("kits", "sureselect_v5", "targets.bed"),
			},
			"nimblegen_seqcap_v3": {
				Bait:      j("kits", "seqcap_v3", "baits.interval_list"),
				Target:    j("kits", "seqcap_v3", "targets.interval_list"),
				TargetBed: j("kits", "seqcap_v3", "targets.bed"),
			},
		},
		Genomes: map[string]GenomeEntry{
			"GRCh37": {
				DbSNP:     j("ref", "GRCh37", "dbsnp_138.b37.vcf"),
				ThousandG: j("ref", "GRCh37", "1000G_phase1.indels.b37.vcf"),
				Mills:     j("ref", "GRCh37", "Mills_and_1000G_gold_standard.indels.b37.vcf"),
				Omni:      j("ref", "GRCh37", "1000G_omni2.5.b37.vcf"),
				GFasta:    j("ref", "GRCh37", "human_g1k_v37.fasta"),
				BwaIndex:  j("ref", "GRCh37", "human_g1k_v37.fasta"),
			},
			"GRCh38": {
				DbSNP:     j("ref", "GRCh38", "dbsnp_146.hg38.vcf.gz"),
				ThousandG: j("ref", "GRCh38", "1000G_phase1.snps.high_confidence.hg38.vcf.gz"),
				Mills:     j("ref", "GRCh38", "Mills_and_1000G_gold_standard.indels.hg38.vcf.gz"),
				Omni:      j("ref", "GRCh38", "1000G_omni2.5.hg38.vcf.gz"),
				GFasta:    j("ref", "GRCh38", "Homo_sapiens_assembly38.fasta"),
				BwaIndex:  j("ref", "GRCh38", "Homo_sapiens_assembly38.fasta"),
			},
		},
	}
}

// LoadTables reads extra kit/genome rows from a YAML file and merges them
// over the given tables, file rows winning on name collision.
func LoadTables(base Tables, path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("resource tables: %w", err)
	}
	var extra Tables
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return Tables{}, fmt.Errorf("resource tables %s: %w", path, err)
	}
	merged := Tables{Kits: map[string]KitEntry{}, Genomes: map[string]GenomeEntry{}}
	for name, row := range base.Kits {
		merged.Kits[name] = row
	}
	for name, row := range extra.Kits {
		merged.Kits[name] = row
	}
	for name, row := range base.Genomes {
		merged.Genomes[name] = row
	}
	for name, row := range extra.Genomes {
		merged.Genomes[name] = row
	}
	return merged, nil
}

// Resolve produces a fully populated Bundle for the named kit and genome.
// Explicit override values always win over table values. When a name is
// absent from its table, the fields that table would have provided must all
// be supplied in overrides; otherwise a ConfigError names exactly the
// missing parameters. Pure: no file access, no side effects.
func Resolve(tables Tables, kit, genome string, overrides Bundle) (Bundle, error) {
	b := overrides

	if row, ok := tables.Kits[kit]; ok {
		if b.Bait == "" {
			b.Bait = row.Bait
		}
		if b.Target == "" {
			b.Target = row.Target
		}
		if b.TargetBed == "" {
			b.TargetBed = row.TargetBed
		}
	} else if missing := missingFields(map[string]string{
		"bait":   b.Bait,
		"target": b.Target,
	}); len(missing) > 0 {
		return Bundle{}, &ConfigError{Table: "kit", Name: kit, Missing: missing}
	}

	if row, ok := tables.Genomes[genome]; ok {
		if b.DbSNP == "" {
			b.DbSNP = row.DbSNP
		}
		if b.ThousandG == "" {
			b.ThousandG = row.ThousandG
		}
		if b.Mills == "" {
			b.Mills = row.Mills
		}
		if b.Omni == "" {
			b.Omni = row.Omni
		}
		if b.GFasta == "" {
			b.GFasta = row.GFasta
		}
		if b.BwaIndex == "" {
			b.BwaIndex = row.BwaIndex
		}
	} else if missing := missingFields(map[string]string{
		"dbsnp":     b.DbSNP,
		"thousandg": b.ThousandG,
		"mills":     b.Mills,
		"omni":      b.Omni,
		"gfasta":    b.GFasta,
		"bwa_index": b.BwaIndex,
	}); len(missing) > 0 {
		return Bundle{}, &ConfigError{Table: "genome", Name: genome, Missing: missing}
	}

	return b, nil
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for name, val := range fields {
		if val == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
