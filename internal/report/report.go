// Package report is the post-hoc aggregation layer: it collects the free-form
// tool logs of every stage instance, probes them for tool version strings,
// tallies the combined variant sets, and emits one consolidated report.
//
// Nothing in this package may fail the run. A version probe with no match
// degrades to "N/A"; an unreadable artifact is reported as such.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pharmbio/varflow/internal/ctxlog"
	"github.com/pharmbio/varflow/internal/pipeline"
)

// NotAvailable marks a version field that could not be scraped.
const NotAvailable = "N/A"

// versionProbes maps a tool name to the patterns its log banner may match.
// The first capture group of the first matching pattern wins.
var versionProbes = map[string][]*regexp.Regexp{
	"gatk": {
		regexp.MustCompile(`Genome Analysis Toolkit \(GATK\)[,]? v?([\w.][\w.-]*)`),
		regexp.MustCompile(`GenomeAnalysisTK[^\s]*[vV]ersion[:=]? ?([\w.-]+)`),
	},
	"snpeff": {
		regexp.MustCompile(`SnpEff version (?:SnpEff )?([\w.]+)`),
	},
}

// ToolVersions maps tool name to a scraped version string or "N/A".
type ToolVersions map[string]string

// SampleSummary is the per-key section of the consolidated report.
type SampleSummary struct {
	Key    string `json:"key"`
	SNPs   int    `json:"snps"`
	Indels int    `json:"indels"`
	Total  int    `json:"total"`
	Note   string `json:"note,omitempty"`
}

// Summary is the consolidated run report.
type Summary struct {
	RunID    string          `json:"run_id"`
	Started  time.Time       `json:"started"`
	Versions ToolVersions    `json:"versions"`
	Samples  []SampleSummary `json:"samples"`
	Failures []string        `json:"failures,omitempty"`
}

// ProbeVersions scans every task log under logDir for known tool banners.
// Tools that never matched are reported as "N/A" rather than failing.
func ProbeVersions(logDir string) ToolVersions {
	versions := ToolVersions{}
	for tool := range versionProbes {
		versions[tool] = NotAvailable
	}
	logs, err := filepath.Glob(filepath.Join(logDir, "*.log"))
	if err != nil {
		return versions
	}
	for _, logFile := range logs {
		data, err := os.ReadFile(logFile)
		if err != nil {
			continue
		}
		for tool, probes := range versionProbes {
			if versions[tool] != NotAvailable {
				continue
			}
			for _, probe := range probes {
				if m := probe.FindSubmatch(data); m != nil {
					versions[tool] = string(m[1])
					break
				}
			}
		}
	}
	return versions
}

// Build assembles the consolidated summary for a finished pipeline run. It
// runs strictly after the workflow has drained and only reads artifacts the
// stages already published.
func Build(ctx context.Context, p *pipeline.Pipeline, failures []error) Summary {
	logger := ctxlog.FromContext(ctx)
	s := Summary{
		RunID:    p.WF.RunID(),
		Started:  p.WF.Started(),
		Versions: ProbeVersions(p.WF.LogDir()),
	}
	for _, err := range failures {
		s.Failures = append(s.Failures, err.Error())
	}
	for _, key := range p.Keys() {
		sample := SampleSummary{Key: key}
		snps, indels, err := TallyVCF(p.CombinedVCF(key))
		if err != nil {
			logger.Warn("no combined variant set to tally", "key", key, "error", err)
			sample.Note = "combined variant set unavailable"
		} else {
			sample.SNPs, sample.Indels, sample.Total = snps, indels, snps+indels
		}
		s.Samples = append(s.Samples, sample)
	}
	return s
}

// Write emits the human-readable report and the machine-readable version
// summary under dir.
func Write(dir string, s Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "varflow run report\n")
	fmt.Fprintf(&b, "==================\n")
	fmt.Fprintf(&b, "run id:  %s\n", s.RunID)
	fmt.Fprintf(&b, "started: %s\n\n", s.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "tool versions:\n")
	for _, tool := range sortedKeys(s.Versions) {
		fmt.Fprintf(&b, "  %-8s %s\n", tool, s.Versions[tool])
	}
	fmt.Fprintf(&b, "\nsamples:\n")
	for _, sample := range s.Samples {
		if sample.Note != "" {
			fmt.Fprintf(&b, "  %-20s %s\n", sample.Key, sample.Note)
			continue
		}
		fmt.Fprintf(&b, "  %-20s snps=%d indels=%d total=%d\n",
			sample.Key, sample.SNPs, sample.Indels, sample.Total)
	}
	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, "\nfailures:\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "report.txt"), []byte(b.String()), 0o644); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.Versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "versions.json"), append(data, '\n'), 0o644)
}

func sortedKeys(m ToolVersions) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
