// Package manifest defines the channel manifest data model: the catalog of
// release channels, the components each channel ships, and the alias
// pipelines a channel exposes. The same schema serves two roles: the
// upstream manifest (what exists and is installable) and the local manifest
// (what is actually on disk, annotated with per-component install status).
package manifest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is written into every manifest this tool generates and is
// used to detect breaking changes in the manifest format itself.
const SchemaVersion = "1.0.0"

// StableName is the reserved channel alias that resolves, at read time, to
// the greatest non-pre-release channel in the manifest. It is never a
// stored channel name.
const StableName = "stable"

// Manifest is the full collection of channels, keyed by name.
type Manifest struct {
	SchemaVersion string     `json:"manifest_version"`
	GeneratedAt   int64      `json:"generated_at,omitempty"`
	Channels      []*Channel `json:"channels"`
}

// Channel is a named, versioned bundle of components. The name is a semantic
// version string; the reserved alias "stable" is resolved by Manifest lookup
// and never stored as a channel name.
type Channel struct {
	Name       string              `json:"name"`
	Components []*Component        `json:"components"`
	Aliases    map[string]Pipeline `json:"aliases,omitempty"`

	version *semver.Version
}

// New returns an empty manifest carrying the current schema version.
func New() *Manifest {
	return &Manifest{SchemaVersion: SchemaVersion}
}

// Parse decodes and validates a manifest from raw JSON. Schema violations
// (missing fields, duplicate component names within a channel, versions
// that do not parse) are reported as ErrMalformedManifest; an unrecognized
// source locator scheme is reported as ErrUnsupportedLocator.
func Parse(raw []byte) (*Manifest, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedManifest)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.SchemaVersion == "" {
		return fmt.Errorf("%w: missing manifest_version", ErrMalformedManifest)
	}
	seen := make(map[string]bool, len(m.Channels))
	for _, ch := range m.Channels {
		if ch.Name == "" {
			return fmt.Errorf("%w: channel with empty name", ErrMalformedManifest)
		}
		if ch.Name == StableName {
			return fmt.Errorf("%w: %q is a reserved alias, not a channel name", ErrMalformedManifest, StableName)
		}
		v, err := semver.NewVersion(ch.Name)
		if err != nil {
			return fmt.Errorf("%w: channel %q: invalid version: %v", ErrMalformedManifest, ch.Name, err)
		}
		// Deduplicate on the parsed version, so spellings like "0.15.0"
		// and "v0.15.0" cannot coexist as distinct channels.
		if seen[v.String()] {
			return fmt.Errorf("%w: duplicate channel %q", ErrMalformedManifest, ch.Name)
		}
		seen[v.String()] = true
		ch.version = v
		if err := ch.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) validate() error {
	names := make(map[string]bool, len(c.Components))
	for _, comp := range c.Components {
		if comp.Name == "" {
			return fmt.Errorf("%w: channel %q: component with empty name", ErrMalformedManifest, c.Name)
		}
		if names[comp.Name] {
			return fmt.Errorf("%w: channel %q: duplicate component %q", ErrMalformedManifest, c.Name, comp.Name)
		}
		names[comp.Name] = true
		if err := comp.validate(c.Name); err != nil {
			return err
		}
	}
	for alias, pipe := range c.Aliases {
		if len(pipe) == 0 {
			return fmt.Errorf("%w: channel %q: alias %q has no steps", ErrMalformedManifest, c.Name, alias)
		}
		for _, step := range pipe {
			if !names[step.Component] {
				return fmt.Errorf("%w: channel %q: alias %q references unknown component %q",
					ErrMalformedManifest, c.Name, alias, step.Component)
			}
		}
	}
	return nil
}

// Version returns the channel's parsed semantic version.
func (c *Channel) Version() *semver.Version {
	if c.version == nil {
		c.version, _ = semver.NewVersion(c.Name)
	}
	return c.version
}

// Component returns the named component, or ErrComponentNotFound.
func (c *Channel) Component(name string) (*Component, error) {
	for _, comp := range c.Components {
		if comp.Name == name {
			return comp, nil
		}
	}
	return nil, fmt.Errorf("%w: %q in channel %s", ErrComponentNotFound, name, c.Name)
}

// ComponentNames returns the channel's component names in declaration order.
func (c *Channel) ComponentNames() []string {
	names := make([]string, len(c.Components))
	for i, comp := range c.Components {
		names[i] = comp.Name
	}
	return names
}

// Subset returns the components selected by names plus the transitive
// closure of their Requires lists, preserving the channel's declaration
// order. An empty names slice selects every component. Unknown names are
// reported as ErrComponentNotFound.
func (c *Channel) Subset(names []string) ([]*Component, error) {
	if len(names) == 0 {
		return c.Components, nil
	}
	want := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if want[name] {
			return nil
		}
		comp, err := c.Component(name)
		if err != nil {
			return err
		}
		want[name] = true
		for _, req := range comp.Requires {
			if err := visit(req); err != nil {
				return fmt.Errorf("requirement of %q: %w", name, err)
			}
		}
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	var subset []*Component
	for _, comp := range c.Components {
		if want[comp.Name] {
			subset = append(subset, comp)
		}
	}
	return subset, nil
}

// Channel resolves a user-facing channel name: the exact channel of that
// name, or the current stable channel when name is "stable". Missing
// channels are reported as ErrChannelNotFound.
func (m *Manifest) Channel(name string) (*Channel, error) {
	if name == StableName {
		ch := m.Stable()
		if ch == nil {
			return nil, fmt.Errorf("%w: no stable channel available", ErrChannelNotFound)
		}
		return ch, nil
	}
	for _, ch := range m.Channels {
		if ch.Name == name {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrChannelNotFound, name)
}

// Stable returns the channel with the greatest non-pre-release version, or
// nil when the manifest has none. The result is computed at call time, so
// a manifest refresh is reflected without any stored-state migration.
func (m *Manifest) Stable() *Channel {
	var best *Channel
	for _, ch := range m.Channels {
		v := ch.Version()
		if v == nil || v.Prerelease() != "" {
			continue
		}
		if best == nil || v.GreaterThan(best.Version()) {
			best = ch
		}
	}
	return best
}

// SetChannel inserts or replaces a channel record, keeping the channel list
// sorted by version so serialized manifests are stable.
func (m *Manifest) SetChannel(ch *Channel) {
	for i, existing := range m.Channels {
		if existing.Name == ch.Name {
			m.Channels[i] = ch
			return
		}
	}
	m.Channels = append(m.Channels, ch)
	sort.Slice(m.Channels, func(i, j int) bool {
		vi, vj := m.Channels[i].Version(), m.Channels[j].Version()
		if vi == nil || vj == nil {
			return m.Channels[i].Name < m.Channels[j].Name
		}
		return vi.LessThan(vj)
	})
}

// RemoveChannel deletes the named channel record, if present.
func (m *Manifest) RemoveChannel(name string) {
	for i, ch := range m.Channels {
		if ch.Name == name {
			m.Channels = append(m.Channels[:i], m.Channels[i+1:]...)
			return
		}
	}
}

func parseVersion(s string) (*semver.Version, error) {
	return semver.NewVersion(s)
}

// SameVersion reports whether two version strings denote the same semantic
// version. Unparseable strings only compare equal byte-for-byte.
func SameVersion(a, b string) bool {
	va, erra := semver.NewVersion(a)
	vb, errb := semver.NewVersion(b)
	if erra != nil || errb != nil {
		return a == b
	}
	return va.Equal(vb)
}

// Clone returns a deep copy via JSON round-trip. Used when the local
// manifest records a channel whose component statuses will diverge from
// the upstream copy.
func (c *Channel) Clone() *Channel {
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("manifest: clone channel %s: %v", c.Name, err))
	}
	var out Channel
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("manifest: clone channel %s: %v", c.Name, err))
	}
	return &out
}
