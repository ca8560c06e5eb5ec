// Package config loads the tunables recognized in §6 of the specification.
// It follows the teacher's envutil convention (env var with a default; a
// warning is logged only when a set value fails to parse) plus an optional
// flat YAML overlay (CONFIG_FILE) for the same tunables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/nasa/harmony-workflow-core/internal/logger"
)

// Config holds every tunable named in §6.
type Config struct {
	CmrMaxPageSize                               int
	MaxErrorsForJob                              int
	MaxPercentErrorsForJob                       float64
	WorkItemRetryLimit                           int
	AggregateStacCatalogMaxPageSize              int
	LargeWorkItemUpdateQueueMaxBatchSize         int
	WorkItemUpdateQueueProcessorDelayAfterErrorSec int
	UseServiceQueues                             bool

	// CalculateQueryCmrLimit is loaded from CALCULATE_QUERY_CMR_LIMIT but
	// nothing reads it: the planner continues query-cmr whenever its
	// granule budget is positive.
	CalculateQueryCmrLimit int

	// WorkItemTimeoutMinutes is the reaper's per-item execution timeout
	// (§4.9): a RUNNING item whose updatedAt is older than this is failed
	// with an execution-timeout category.
	WorkItemTimeoutMinutes int
	// ReaperScanIntervalSec is how often the reaper sweeps for stuck items.
	ReaperScanIntervalSec int
	// ReaperBatchSize bounds how many stuck items one sweep reaps.
	ReaperBatchSize int
}

func Load(log *logger.Logger) Config {
	cfg := Config{
		CmrMaxPageSize:                   envInt("CMR_MAX_PAGE_SIZE", 2000, log),
		MaxErrorsForJob:                  envInt("MAX_ERRORS_FOR_JOB", 100, log),
		MaxPercentErrorsForJob:           envFloat("MAX_PERCENT_ERRORS_FOR_JOB", 30.0, log),
		WorkItemRetryLimit:               envInt("WORK_ITEM_RETRY_LIMIT", 3, log),
		AggregateStacCatalogMaxPageSize:  envInt("AGGREGATE_STAC_CATALOG_MAX_PAGE_SIZE", 2000, log),
		LargeWorkItemUpdateQueueMaxBatchSize:           envInt("LARGE_WORK_ITEM_UPDATE_QUEUE_MAX_BATCH_SIZE", 1, log),
		WorkItemUpdateQueueProcessorDelayAfterErrorSec: envInt("WORK_ITEM_UPDATE_QUEUE_PROCESSOR_DELAY_AFTER_ERROR_SEC", 5, log),
		UseServiceQueues:                 envBool("USE_SERVICE_QUEUES", false, log),
		CalculateQueryCmrLimit:           envInt("CALCULATE_QUERY_CMR_LIMIT", 1, log),
		WorkItemTimeoutMinutes:           envInt("WORK_ITEM_TIMEOUT_MINUTES", 60, log),
		ReaperScanIntervalSec:            envInt("REAPER_SCAN_INTERVAL_SEC", 30, log),
		ReaperBatchSize:                  envInt("REAPER_BATCH_SIZE", 100, log),
	}

	// CONFIG_FILE is optional YAML overriding the eight §6 tunables above
	// (not CalculateQueryCmrLimit or the reaper settings) (§10.3); env vars
	// still seed the defaults an absent or partial file leaves untouched.
	loadOverlay(GetEnv("CONFIG_FILE", ""), &cfg, log)

	return cfg
}

func envInt(name string, def int, log *logger.Logger) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid int env var, using default", "name", name, "value", v, "default", def)
		}
		return def
	}
	return i
}

func envFloat(name string, def float64, log *logger.Logger) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		if log != nil {
			log.Warn("invalid float env var, using default", "name", name, "value", v, "default", def)
		}
		return def
	}
	return f
}

func envBool(name string, def bool, log *logger.Logger) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func GetEnv(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}
