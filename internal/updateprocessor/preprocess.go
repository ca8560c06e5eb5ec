package updateprocessor

import (
	"context"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/stac"
)

// Preprocess runs the parts of §4.4 that may touch remote STAC catalogs or
// object storage, deliberately outside LockJob so a slow remote read never
// holds the job's row lock. isLastStep tells it whether to read result
// catalogs for link generation.
func (p *Processor) Preprocess(ctx context.Context, u Update, isLastStep bool) PreprocessResult {
	result := PreprocessResult{Status: u.Status}

	if u.Status == domain.ItemSuccessful && isLastStep && p.stac != nil {
		var items []stac.Item
		for _, url := range u.Results {
			catalogItems, err := p.stac.ReadCatalogItems(ctx, url)
			if err != nil {
				p.log.Warn("stac catalog read failed", "url", url, "error", err)
				result.Status = domain.ItemFailed
				result.FailureMessage = "Unable to read output STAC catalog."
				result.FailureCategory = "harmony.ServiceRuntimeError"
				return result
			}
			items = append(items, catalogItems...)
		}
		result.CatalogItems = items
	}

	if u.Status == domain.ItemSuccessful && p.sizes != nil {
		sizes := make([]int64, len(u.Results))
		copy(sizes, u.OutputItemSizes)
		for i := len(sizes); i < len(u.Results); i++ {
			sizes = append(sizes, 0)
		}
		for i, url := range u.Results {
			if i < len(u.OutputItemSizes) && u.OutputItemSizes[i] > 0 {
				continue
			}
			size, err := p.sizes.ResolveSize(ctx, url)
			if err != nil {
				p.log.Warn("output size resolution failed", "url", url, "error", err)
				result.Status = domain.ItemFailed
				result.FailureMessage = "Unable to determine output size."
				result.FailureCategory = "harmony.ServiceRuntimeError"
				return result
			}
			sizes[i] = size
		}
		result.OutputItemSizes = sizes
	}

	return result
}
