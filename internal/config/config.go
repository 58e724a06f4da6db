// Package config reads environment configuration for tool launch commands
// and runtime defaults.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Env is populated from VARFLOW_-prefixed environment variables. It covers
// how the external tools are launched, not what the pipeline does with them.
type Env struct {
	Java         string `envconfig:"JAVA" default:"java"`
	JavaOpts     string `envconfig:"JAVA_OPTS" default:"-Xmx3g"`
	GatkJar      string `envconfig:"GATK_JAR" default:"GenomeAnalysisTK.jar"`
	SnpEffJar    string `envconfig:"SNPEFF_JAR" default:"snpEff.jar"`
	SnpEffDB     string `envconfig:"SNPEFF_DB" default:"GRCh37.75"`
	ResourceRoot string `envconfig:"RESOURCES" default:"resources"`
	Cores        int    `envconfig:"CORES" default:"4"`
}

// Load reads the environment. Defaults apply for anything unset.
func Load() (Env, error) {
	var env Env
	if err := envconfig.Process("varflow", &env); err != nil {
		return Env{}, fmt.Errorf("environment config: %w", err)
	}
	return env, nil
}

// GATK returns the launch prefix for a GATK walker invocation.
func (e Env) GATK() string {
	return fmt.Sprintf("%s %s -jar %s", e.Java, e.JavaOpts, e.GatkJar)
}

// SnpEff returns the launch prefix for a SnpEff invocation.
func (e Env) SnpEff() string {
	return fmt.Sprintf("%s %s -jar %s", e.Java, e.JavaOpts, e.SnpEffJar)
}
