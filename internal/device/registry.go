package device

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"simharness/internal/mcperr"
)

// Registry is the process-wide device cache. All reads go through the
// cache; Refresh resynchronizes it from the host.
type Registry struct {
	mu       sync.Mutex
	simctl   *Simctl
	run      runFunc
	log      *slog.Logger
	devices  map[string]Device
	activeID string
}

// NewRegistry creates a registry backed by the real host toolchain.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		simctl:  NewSimctl(),
		run:     execRun,
		log:     log,
		devices: make(map[string]Device),
	}
}

// newRegistryWithRunner is the test seam.
func newRegistryWithRunner(log *slog.Logger, run runFunc) *Registry {
	r := NewRegistry(log)
	r.simctl = &Simctl{run: run}
	r.run = run
	return r
}

// Refresh re-enumerates devices from the simulator catalog and the
// physical enumerator, merging by id. The simulator catalog wins on
// conflicting ids. If no active device is set, the first booted device
// (in stable id order) is adopted.
func (r *Registry) Refresh(ctx context.Context) ([]Device, error) {
	sims, dropped, err := r.simctl.ListDevices(ctx)
	if err != nil {
		return nil, mcperr.From(err, mcperr.ToolExecutionFailed)
	}
	for _, d := range dropped {
		r.log.Warn("dropping device with unrecognized state", "device", d)
	}

	physical := ListPhysical(ctx, r.run)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[string]Device, len(sims)+len(physical))
	for _, d := range physical {
		r.devices[d.ID] = d
	}
	for _, d := range sims {
		if prev, ok := r.devices[d.ID]; ok && prev.IsPhysical {
			r.log.Warn("id reported by both sources, keeping simulator entry", "id", d.ID)
		}
		r.devices[d.ID] = d
	}

	if _, ok := r.devices[r.activeID]; !ok {
		r.activeID = ""
	}
	if r.activeID == "" {
		for _, d := range r.sortedLocked() {
			if d.State == StateBooted && !d.IsPhysical {
				r.activeID = d.ID
				r.log.Info("adopted active device", "id", d.ID, "name", d.Name)
				break
			}
		}
	}

	return r.sortedLocked(), nil
}

// sortedLocked returns the cached devices in stable id order. Callers
// must hold r.mu.
func (r *Registry) sortedLocked() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns the cached devices without hitting the host.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

// Get returns a cached device by id.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	return d, ok
}

// SetActive marks id as the active device. The id must be cached.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return mcperr.Newf(mcperr.ResourceNotFound, "device not found: %s", id).
			With("device_id", id)
	}
	r.activeID = id
	return nil
}

// Active returns the active device, if any.
func (r *Registry) Active() (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[r.activeID]
	return d, ok
}

// Resolve returns the device for id, or the active device when id is
// empty.
func (r *Registry) Resolve(id string) (Device, *mcperr.Error) {
	if id == "" {
		d, ok := r.Active()
		if !ok {
			return Device{}, mcperr.New(mcperr.StateError,
				"no device specified and no active device set").
				With("remediation", "boot a simulator or call device_management set_active first")
		}
		return d, nil
	}
	d, ok := r.Get(id)
	if !ok {
		return Device{}, mcperr.Newf(mcperr.ResourceNotFound, "device not found: %s", id).
			With("device_id", id)
	}
	return d, nil
}

// Boot boots a simulator and refreshes the cache. Physical devices
// cannot be booted remotely.
func (r *Registry) Boot(ctx context.Context, id string) error {
	d, ok := r.Get(id)
	if !ok {
		return mcperr.Newf(mcperr.ResourceNotFound, "device not found: %s", id)
	}
	if d.IsPhysical {
		return mcperr.New(mcperr.ValidationError, "physical devices cannot be booted remotely").
			With("device_id", id)
	}
	if err := r.simctl.Boot(ctx, id); err != nil {
		return mcperr.From(err, mcperr.ToolExecutionFailed)
	}
	_, err := r.Refresh(ctx)
	return err
}

// Shutdown shuts a simulator down and refreshes the cache.
func (r *Registry) Shutdown(ctx context.Context, id string) error {
	d, ok := r.Get(id)
	if !ok {
		return mcperr.Newf(mcperr.ResourceNotFound, "device not found: %s", id)
	}
	if d.IsPhysical {
		return mcperr.New(mcperr.ValidationError, "physical devices cannot be shut down remotely").
			With("device_id", id)
	}
	if err := r.simctl.Shutdown(ctx, id); err != nil {
		return mcperr.From(err, mcperr.ToolExecutionFailed)
	}
	_, err := r.Refresh(ctx)
	return err
}

// Create creates a new simulator and refreshes the cache.
func (r *Registry) Create(ctx context.Context, name, deviceType, runtime string) (string, error) {
	udid, err := r.simctl.Create(ctx, name, deviceType, runtime)
	if err != nil {
		return "", mcperr.From(err, mcperr.ToolExecutionFailed)
	}
	if _, err := r.Refresh(ctx); err != nil {
		return udid, err
	}
	return udid, nil
}

// Delete deletes a simulator and refreshes the cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	d, ok := r.Get(id)
	if !ok {
		return mcperr.Newf(mcperr.ResourceNotFound, "device not found: %s", id)
	}
	if d.IsPhysical {
		return mcperr.New(mcperr.ValidationError, "physical devices cannot be deleted").
			With("device_id", id)
	}
	if err := r.simctl.Delete(ctx, id); err != nil {
		return mcperr.From(err, mcperr.ToolExecutionFailed)
	}
	_, err := r.Refresh(ctx)
	return err
}

// Simctl exposes the underlying simctl wrapper for collaborators that
// need raw host access (screenshots, boot monitoring).
func (r *Registry) Simctl() *Simctl {
	return r.simctl
}
