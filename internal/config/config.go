// Package config loads Rheem's configuration from the "rheem.*" key
// namespace (spec §6) using viper, mirroring the teacher's Config /
// Default() / LoadFromEnv() / Validate() / String() shape but backed by
// a layered key-value store instead of a fixed struct.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Keys in the "rheem.*" namespace that every build reads at least once.
const (
	KeyOptimizerReoptimize = "rheem.core.optimizer.reoptimize"
	KeyDebugSkipExecution  = "rheem.core.debug.skipexecution"
	KeyLogEnabled          = "rheem.core.log.enabled"
	KeyLogExecutions       = "rheem.core.log.executions"
	KeyProfilerGAGenerations = "rheem.profiler.ga.generations"
	KeyProfilerGAPopulation  = "rheem.profiler.ga.population"
	KeyProfilerGAEliteFraction = "rheem.profiler.ga.elitefraction"
	KeyProfilerGAMutationRate  = "rheem.profiler.ga.mutationrate"
	KeyProfilerGATribes        = "rheem.profiler.ga.tribes"
	KeyProfilerGASeed          = "rheem.profiler.ga.seed"
	KeyProfilerGABinning       = "rheem.profiler.ga.binning"
)

// Configuration wraps a viper instance, exposing typed accessors for the
// rheem.* namespace (spec §6). Unlike the teacher's fixed Config struct,
// operator/platform load-profile keys are open-ended
// ("rheem.<platform>.<op>.load"), so Configuration reads them by key
// rather than by field.
type Configuration struct {
	v *viper.Viper
}

// Default returns a Configuration with Rheem's built-in defaults, no
// file or environment layer applied yet.
func Default() *Configuration {
	v := viper.New()
	v.SetDefault(KeyOptimizerReoptimize, true)
	v.SetDefault(KeyDebugSkipExecution, false)
	v.SetDefault(KeyLogEnabled, false)
	v.SetDefault(KeyLogExecutions, "rheem-executions.jsonl")
	v.SetDefault(KeyProfilerGAGenerations, 200)
	v.SetDefault(KeyProfilerGAPopulation, 64)
	v.SetDefault(KeyProfilerGAEliteFraction, 0.2)
	v.SetDefault(KeyProfilerGAMutationRate, 0.1)
	v.SetDefault(KeyProfilerGATribes, 4)
	v.SetDefault(KeyProfilerGASeed, int64(1))
	v.SetDefault(KeyProfilerGABinning, 2.0)
	return &Configuration{v: v}
}

// LoadFromEnv layers environment variables (RHEEM_CORE_LOG_ENABLED, etc,
// via viper's "_" replacer over the dotted key) and an optional config
// file on top of Default().
func LoadFromEnv(configFile string) (*Configuration, error) {
	c := Default()
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	if configFile != "" {
		c.v.SetConfigFile(configFile)
		if err := c.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.LoadFromEnv: reading %s: %w", configFile, err)
		}
	}
	return c, nil
}

// Validate checks the subset of settings that must hold for the
// optimizer/driver/learner to run at all.
func (c *Configuration) Validate() error {
	if c.v.GetInt(KeyProfilerGAGenerations) <= 0 {
		return fmt.Errorf("config.Validate: %s must be positive", KeyProfilerGAGenerations)
	}
	if c.v.GetInt(KeyProfilerGAPopulation) <= 0 {
		return fmt.Errorf("config.Validate: %s must be positive", KeyProfilerGAPopulation)
	}
	ef := c.v.GetFloat64(KeyProfilerGAEliteFraction)
	if ef <= 0 || ef >= 1 {
		return fmt.Errorf("config.Validate: %s must be in (0, 1)", KeyProfilerGAEliteFraction)
	}
	if c.v.GetInt(KeyProfilerGATribes) <= 0 {
		return fmt.Errorf("config.Validate: %s must be positive", KeyProfilerGATribes)
	}
	return nil
}

// String renders a human-readable dump of the resolved settings,
// mirroring the teacher's Config.String().
func (c *Configuration) String() string {
	return fmt.Sprintf(`Rheem Configuration:
  Optimizer:
    Reoptimize: %v
  Debug:
    SkipExecution: %v
  Logging:
    Enabled: %v
    Executions: %s
  Profiler (GA):
    Generations: %d
    Population: %d
    EliteFraction: %.2f
    MutationRate: %.2f
    Tribes: %d
    Seed: %d
    Binning: %.2f`,
		c.Bool(KeyOptimizerReoptimize), c.Bool(KeyDebugSkipExecution),
		c.Bool(KeyLogEnabled), c.String_(KeyLogExecutions),
		c.Int(KeyProfilerGAGenerations), c.Int(KeyProfilerGAPopulation),
		c.Float64(KeyProfilerGAEliteFraction), c.Float64(KeyProfilerGAMutationRate),
		c.Int(KeyProfilerGATribes), c.Int64(KeyProfilerGASeed), c.Float64(KeyProfilerGABinning))
}

// Bool, Int, Int64, Float64, String_ are thin typed wrappers over the
// underlying viper.Viper, used for both the well-known keys above and
// the open-ended "rheem.<platform>.<op>.load" keys (spec §6).
func (c *Configuration) Bool(key string) bool        { return c.v.GetBool(key) }
func (c *Configuration) Int(key string) int          { return c.v.GetInt(key) }
func (c *Configuration) Int64(key string) int64       { return c.v.GetInt64(key) }
func (c *Configuration) Float64(key string) float64   { return c.v.GetFloat64(key) }
func (c *Configuration) String_(key string) string    { return c.v.GetString(key) }
func (c *Configuration) IsSet(key string) bool        { return c.v.IsSet(key) }

// Set applies a programmatic override, the highest-priority layer in
// viper's internal precedence, matching the "user override beats
// platform default" rule used throughout the cost model (spec §4.4).
func (c *Configuration) Set(key string, value interface{}) { c.v.Set(key, value) }

// LoadKeysWithPrefix returns every configured key under prefix (minus
// the prefix itself), used to discover "rheem.<platform>.<op>.load"
// entries without enumerating platforms/operators in advance.
func (c *Configuration) LoadKeysWithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for _, key := range c.v.AllKeys() {
		if strings.HasPrefix(key, prefix) {
			out[strings.TrimPrefix(key, prefix)] = c.v.GetString(key)
		}
	}
	return out
}
