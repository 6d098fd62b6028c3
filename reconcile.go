package loomup

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomlang/loomup/internal/manifest"
)

// UpdateReport describes what one channel update did. Migrated is set when
// updating "stable" moved to a newer concrete channel; otherwise NewChannel
// equals Channel.
type UpdateReport struct {
	Channel    string
	NewChannel string
	Migrated   bool

	// Unchanged components already matched upstream. Updated were
	// reinstalled at new definitions. Skipped are user-managed components
	// whose upstream definition changed but which the engine will not
	// touch.
	Unchanged []string
	Updated   []string
	Skipped   []string
}

// Update reconciles one installed channel against upstream. For a concrete
// channel name, components whose upstream definition changed are
// reinstalled, unchanged ones are left alone, and components upstream no
// longer lists stay untouched. The name "stable" additionally migrates:
// when upstream's stable moved past every installed channel, the new
// stable channel is installed fresh.
func (e *Engine) Update(ctx context.Context, name string) (UpdateReport, error) {
	up, err := e.Upstream(ctx)
	if err != nil {
		return UpdateReport{}, err
	}

	if name == manifest.StableName {
		return e.updateStable(ctx, up)
	}

	local, err := e.Local()
	if err != nil {
		return UpdateReport{}, err
	}
	current, err := local.Channel(name)
	if err != nil {
		return UpdateReport{}, err
	}
	fresh, err := up.Channel(name)
	if err != nil {
		return UpdateReport{}, fmt.Errorf("channel %s no longer published upstream: %w", name, err)
	}
	return e.reconcile(ctx, current, fresh)
}

// updateStable re-resolves stable against upstream. If the stable channel
// upstream is newer than anything installed it is installed from scratch;
// otherwise the installed channel it resolves to is reconciled in place.
func (e *Engine) updateStable(ctx context.Context, up *manifest.Manifest) (UpdateReport, error) {
	target := up.Stable()
	if target == nil {
		return UpdateReport{}, fmt.Errorf("%w: no stable channel upstream", manifest.ErrChannelNotFound)
	}
	local, err := e.Local()
	if err != nil {
		return UpdateReport{}, err
	}

	installed := local.Stable()
	if installed != nil && installed.Name == target.Name {
		return e.reconcile(ctx, installed, target)
	}

	// Stable moved. Install the new channel; the old one stays until the
	// user uninstalls it.
	if err := e.installComponents(ctx, target, target.Components); err != nil {
		return UpdateReport{}, err
	}
	report := UpdateReport{
		NewChannel: target.Name,
		Migrated:   true,
		Updated:    target.ComponentNames(),
	}
	if installed != nil {
		report.Channel = installed.Name
	}
	return report, nil
}

// reconcile diffs the locally recorded channel against its fresh upstream
// definition and reinstalls exactly the components that need it: changed
// definitions, failed or interrupted installs, and components upstream
// added after the channel was installed. Components the recorded subset
// excluded and user-managed components are never auto-installed.
func (e *Engine) reconcile(ctx context.Context, current, fresh *manifest.Channel) (UpdateReport, error) {
	report := UpdateReport{Channel: current.Name, NewChannel: fresh.Name}

	var changed []*manifest.Component
	for _, latest := range fresh.Components {
		local, err := current.Component(latest.Name)
		if err != nil && !errors.Is(err, manifest.ErrComponentNotFound) {
			return UpdateReport{}, err
		}
		managed := userManaged(latest) || (local != nil && userManaged(local))
		switch {
		case local == nil:
			// Added upstream after the channel was installed.
			if managed {
				report.Skipped = append(report.Skipped, latest.Name)
				continue
			}
			changed = append(changed, latest)
			report.Updated = append(report.Updated, latest.Name)
		case local.Status == manifest.StatusAbsent:
			// Excluded by the recorded subset; an explicit install or
			// dispatch pulls it in, update never does.
			if !sameDefinition(local, latest) {
				report.Skipped = append(report.Skipped, latest.Name)
			}
		case local.Status != manifest.StatusInstalled:
			// Failed or interrupted: repair even when the definition is
			// unchanged.
			if managed {
				report.Skipped = append(report.Skipped, latest.Name)
				continue
			}
			changed = append(changed, latest)
			report.Updated = append(report.Updated, latest.Name)
		case sameDefinition(local, latest):
			report.Unchanged = append(report.Unchanged, latest.Name)
		case managed:
			report.Skipped = append(report.Skipped, latest.Name)
		default:
			changed = append(changed, latest)
			report.Updated = append(report.Updated, latest.Name)
		}
	}

	// Components upstream no longer lists stay untouched.
	for _, comp := range current.Components {
		if _, err := fresh.Component(comp.Name); errors.Is(err, manifest.ErrComponentNotFound) {
			report.Unchanged = append(report.Unchanged, comp.Name)
		}
	}

	if len(changed) == 0 {
		return report, nil
	}

	if err := e.mgr.Invalidate(current.Name, changed); err != nil {
		return UpdateReport{}, err
	}
	if err := e.installComponents(ctx, fresh, changed); err != nil {
		return report, err
	}
	return report, nil
}

// sameDefinition reports whether a component's installable definition is
// unchanged: same version and same source locator.
func sameDefinition(a, b *manifest.Component) bool {
	return manifest.SameVersion(a.Version, b.Version) && a.Source == b.Source
}

// userManaged reports whether the engine must keep its hands off the
// component's on-disk artifact.
func userManaged(c *manifest.Component) bool {
	return c.PathManaged || c.Source.Kind == manifest.LocatorPath
}

// UpdateAll reconciles every installed channel plus the stable alias.
// Channels update independently: one channel's failure does not stop the
// others, and the joined error reports every failure.
func (e *Engine) UpdateAll(ctx context.Context) ([]UpdateReport, error) {
	local, err := e.Local()
	if err != nil {
		return nil, err
	}

	var reports []UpdateReport
	var errs []error
	seen := map[string]bool{}
	for _, ch := range local.Channels {
		report, err := e.Update(ctx, ch.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", ch.Name, err))
			continue
		}
		seen[report.NewChannel] = true
		reports = append(reports, report)
	}

	// Stable migration: pick up a newer stable channel even though no
	// installed channel names it.
	if up, err := e.Upstream(ctx); err == nil {
		if target := up.Stable(); target != nil && !seen[target.Name] && len(local.Channels) > 0 {
			report, err := e.updateStable(ctx, up)
			if err != nil {
				errs = append(errs, fmt.Errorf("update stable: %w", err))
			} else if report.Migrated {
				reports = append(reports, report)
			}
		}
	}

	return reports, errors.Join(errs...)
}
