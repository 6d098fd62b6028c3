package manifest

import (
	"encoding/json"
	"fmt"
)

// Status is the installation state of a component as recorded in the local
// manifest. The zero value is StatusAbsent.
type Status string

const (
	StatusAbsent     Status = ""
	StatusInProgress Status = "in-progress"
	StatusInstalled  Status = "installed"
	StatusFailed     Status = "failed"
)

// Component is one installable unit within a channel: an executable or a
// library, independently versioned.
type Component struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Source  Locator `json:"source,omitempty"`

	// Executable and Library describe the installed artifact. At most one
	// is set; when both are empty the component installs an executable
	// named after itself.
	Executable string `json:"executable,omitempty"`
	Library    string `json:"library,omitempty"`

	// Requires lists components that must be installed alongside this one.
	Requires []string `json:"requires,omitempty"`

	// InitHint, when non-empty, is the subcommand the user must run once
	// before the component can be invoked (for example ["init"]).
	InitHint []string `json:"init,omitempty"`

	// PathManaged marks a component whose on-disk location is owned by the
	// user. The engine never writes to it and excludes it from automatic
	// update and removal.
	PathManaged bool `json:"path_managed,omitempty"`

	// Status annotates local manifest entries only; upstream manifests
	// leave it empty.
	Status Status `json:"status,omitempty"`
}

func (c *Component) validate(channel string) error {
	if c.Version == "" {
		return fmt.Errorf("%w: channel %q: component %q missing version", ErrMalformedManifest, channel, c.Name)
	}
	if _, err := parseVersion(c.Version); err != nil {
		return fmt.Errorf("%w: channel %q: component %q: invalid version %q", ErrMalformedManifest, channel, c.Name, c.Version)
	}
	if c.Executable != "" && c.Library != "" {
		return fmt.Errorf("%w: channel %q: component %q declares both executable and library",
			ErrMalformedManifest, channel, c.Name)
	}
	if err := c.Source.validate(); err != nil {
		return fmt.Errorf("channel %q: component %q: %w", channel, c.Name, err)
	}
	return nil
}

// ExecutableName returns the name of the binary this component installs
// under the channel's bin directory, or "" for library components.
func (c *Component) ExecutableName() string {
	if c.Library != "" {
		return ""
	}
	if c.Executable != "" {
		return c.Executable
	}
	return c.Name
}

// IsLibrary reports whether the component ships a library artifact rather
// than an executable.
func (c *Component) IsLibrary() bool {
	return c.Library != ""
}

// LocatorKind identifies the scheme of a component's source locator.
type LocatorKind string

const (
	// LocatorRegistry fetches a published package from the component
	// registry.
	LocatorRegistry LocatorKind = "registry"
	// LocatorGit builds from a git repository at a pinned revision.
	LocatorGit LocatorKind = "git"
	// LocatorPath points at a local working tree. Components sourced this
	// way are implicitly user-managed.
	LocatorPath LocatorKind = "path"
)

// Locator describes where a component's artifact comes from. The JSON form
// is a single-key object selecting the scheme:
//
//	{"registry": "loom-vm"}
//	{"git": "https://...", "rev": "deadbeef"}
//	{"path": "/home/dev/vm"}
//
// A missing locator defaults to the registry under the component's own
// name. Unknown keys are rejected with ErrUnsupportedLocator.
type Locator struct {
	Kind LocatorKind
	// Package is the registry package name, when it differs from the
	// component name.
	Package string
	// Repo and Rev identify a git source.
	Repo string
	Rev  string
	// Path is the local working tree of a path-sourced component.
	Path string
}

type locatorJSON struct {
	Registry string `json:"registry,omitempty"`
	Git      string `json:"git,omitempty"`
	Rev      string `json:"rev,omitempty"`
	Path     string `json:"path,omitempty"`
}

// UnmarshalJSON decodes the single-key locator object form.
func (l *Locator) UnmarshalJSON(raw []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	for key := range keys {
		switch key {
		case "registry", "git", "rev", "path":
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedLocator, key)
		}
	}
	var lj locatorJSON
	if err := json.Unmarshal(raw, &lj); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	switch {
	case lj.Git != "":
		*l = Locator{Kind: LocatorGit, Repo: lj.Git, Rev: lj.Rev}
	case lj.Path != "":
		*l = Locator{Kind: LocatorPath, Path: lj.Path}
	case lj.Registry != "":
		*l = Locator{Kind: LocatorRegistry, Package: lj.Registry}
	default:
		*l = Locator{}
	}
	return nil
}

// MarshalJSON emits the single-key object form. A zero locator marshals as
// an empty object and is treated as "registry, component's own name".
func (l Locator) MarshalJSON() ([]byte, error) {
	lj := locatorJSON{}
	switch l.Kind {
	case LocatorRegistry:
		lj.Registry = l.Package
	case LocatorGit:
		lj.Git = l.Repo
		lj.Rev = l.Rev
	case LocatorPath:
		lj.Path = l.Path
	}
	return json.Marshal(lj)
}

func (l Locator) validate() error {
	switch l.Kind {
	case "", LocatorRegistry:
		return nil
	case LocatorGit:
		if l.Repo == "" {
			return fmt.Errorf("%w: git locator missing repository", ErrMalformedManifest)
		}
		return nil
	case LocatorPath:
		if l.Path == "" {
			return fmt.Errorf("%w: path locator missing path", ErrMalformedManifest)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedLocator, string(l.Kind))
	}
}

// String renders the locator for user-facing messages.
func (l Locator) String() string {
	switch l.Kind {
	case LocatorGit:
		if l.Rev != "" {
			return fmt.Sprintf("%s@%s", l.Repo, l.Rev)
		}
		return l.Repo
	case LocatorPath:
		return l.Path
	default:
		if l.Package != "" {
			return "registry:" + l.Package
		}
		return "registry"
	}
}
