package device

import (
	"context"
	"fmt"

	"simharness/internal/mcperr"
)

// CheckHealth reports per-device health for all cached devices. A
// device is healthy when its runtime is still installed and simctl
// marks it available.
func (r *Registry) CheckHealth(ctx context.Context) ([]Health, error) {
	runtimes, err := r.simctl.ListRuntimes(ctx)
	if err != nil {
		return nil, mcperr.From(err, mcperr.ToolExecutionFailed)
	}

	available := make(map[string]bool, len(runtimes))
	for _, rt := range runtimes {
		available[rt.Identifier] = rt.IsAvailable
	}

	var reports []Health
	for _, d := range r.List() {
		h := Health{
			DeviceID:         d.ID,
			RuntimeAvailable: true,
			IsAvailable:      d.Available,
			Issues:           []string{},
		}
		if !d.IsPhysical {
			ok, known := available[d.Runtime]
			h.RuntimeAvailable = known && ok
			if !known {
				h.Issues = append(h.Issues, fmt.Sprintf("runtime %s is not installed", d.Runtime))
			} else if !ok {
				h.Issues = append(h.Issues, fmt.Sprintf("runtime %s is unavailable", d.Runtime))
			}
		}
		if !d.Available {
			h.Issues = append(h.Issues, "device is marked unavailable by simctl")
		}
		reports = append(reports, h)
	}
	return reports, nil
}

// DeleteUnhealthy removes simulators whose runtime has disappeared.
// With dryRun set it only reports what would be deleted.
func (r *Registry) DeleteUnhealthy(ctx context.Context, dryRun bool) ([]string, error) {
	reports, err := r.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}

	var targets []string
	for _, h := range reports {
		d, ok := r.Get(h.DeviceID)
		if !ok || d.IsPhysical {
			continue
		}
		if !h.RuntimeAvailable {
			targets = append(targets, h.DeviceID)
		}
	}

	if dryRun {
		return targets, nil
	}

	var deleted []string
	for _, id := range targets {
		if err := r.simctl.Delete(ctx, id); err != nil {
			r.log.Warn("failed to delete unhealthy device", "id", id, "error", err)
			continue
		}
		deleted = append(deleted, id)
	}
	if len(deleted) > 0 {
		if _, err := r.Refresh(ctx); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
