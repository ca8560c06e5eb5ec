package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// overlay is the subset of Config expressible as structured YAML rather
// than single-scalar env vars (§10.3). Every field is a pointer so an
// absent key leaves the env-var/default value untouched.
type overlay struct {
	CmrMaxPageSize                                  *int     `yaml:"cmrMaxPageSize"`
	MaxErrorsForJob                                 *int     `yaml:"maxErrorsForJob"`
	MaxPercentErrorsForJob                          *float64 `yaml:"maxPercentErrorsForJob"`
	WorkItemRetryLimit                              *int     `yaml:"workItemRetryLimit"`
	AggregateStacCatalogMaxPageSize                 *int     `yaml:"aggregateStacCatalogMaxPageSize"`
	LargeWorkItemUpdateQueueMaxBatchSize            *int     `yaml:"largeWorkItemUpdateQueueMaxBatchSize"`
	WorkItemUpdateQueueProcessorDelayAfterErrorSec  *int     `yaml:"workItemUpdateQueueProcessorDelayAfterErrorSec"`
	UseServiceQueues                                *bool    `yaml:"useServiceQueues"`
}

// loadOverlay reads the optional YAML tunables file named by path (e.g.
// CONFIG_FILE) and applies any keys present on top of cfg, which already
// holds the env-var/default values. A missing file is not an error; the
// caller passes an empty path to skip loading entirely.
func loadOverlay(path string, cfg *Config, log interface {
	Warn(string, ...interface{})
}) {
	if path == "" {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if log != nil {
			log.Warn("config overlay file unreadable, ignoring", "path", path, "error", err)
		}
		return
	}
	var o overlay
	if err := yaml.Unmarshal(b, &o); err != nil {
		if log != nil {
			log.Warn("config overlay file invalid yaml, ignoring", "path", path, "error", err)
		}
		return
	}

	if o.CmrMaxPageSize != nil {
		cfg.CmrMaxPageSize = *o.CmrMaxPageSize
	}
	if o.MaxErrorsForJob != nil {
		cfg.MaxErrorsForJob = *o.MaxErrorsForJob
	}
	if o.MaxPercentErrorsForJob != nil {
		cfg.MaxPercentErrorsForJob = *o.MaxPercentErrorsForJob
	}
	if o.WorkItemRetryLimit != nil {
		cfg.WorkItemRetryLimit = *o.WorkItemRetryLimit
	}
	if o.AggregateStacCatalogMaxPageSize != nil {
		cfg.AggregateStacCatalogMaxPageSize = *o.AggregateStacCatalogMaxPageSize
	}
	if o.LargeWorkItemUpdateQueueMaxBatchSize != nil {
		cfg.LargeWorkItemUpdateQueueMaxBatchSize = *o.LargeWorkItemUpdateQueueMaxBatchSize
	}
	if o.WorkItemUpdateQueueProcessorDelayAfterErrorSec != nil {
		cfg.WorkItemUpdateQueueProcessorDelayAfterErrorSec = *o.WorkItemUpdateQueueProcessorDelayAfterErrorSec
	}
	if o.UseServiceQueues != nil {
		cfg.UseServiceQueues = *o.UseServiceQueues
	}
}
