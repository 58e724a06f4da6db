package report

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/vertgenlab/gonomics/vcf"
)

// TallyVCF counts SNP and indel records in a VCF. A record is a SNP when
// both the reference and the first alternate allele are single bases;
// anything else counts as an indel.
//
// The parser underneath treats a malformed file as fatal, so the header is
// checked up front and any parse panic is converted to an error. Callers
// degrade to a per-sample note either way.
func TallyVCF(path string) (snps, indels int, err error) {
	if err := checkVCFHeader(path); err != nil {
		return 0, 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tally %s: %v", path, r)
		}
	}()
	records, _ := vcf.GoReadToChan(path)
	for v := range records {
		if len(v.Alt) > 0 && len(v.Ref) == 1 && len(v.Alt[0]) == 1 {
			snps++
		} else {
			indels++
		}
	}
	return snps, indels, nil
}

func checkVCFHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tally %s: %w", path, err)
	}
	defer f.Close()
	if strings.HasSuffix(path, ".gz") {
		return nil
	}
	first, readErr := bufio.NewReader(f).ReadString('\n')
	if strings.HasPrefix(first, "##fileformat=VCF") {
		return nil
	}
	if readErr != nil {
		return fmt.Errorf("tally %s: %w", path, readErr)
	}
	return fmt.Errorf("tally %s: not a VCF: first line %q", path, strings.TrimSpace(first))
}
