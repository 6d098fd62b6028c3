package loomup

import (
	"github.com/loomlang/loomup/internal/install"
	"github.com/loomlang/loomup/internal/manifest"
	"github.com/loomlang/loomup/internal/toolchain"
)

// Public type aliases for internal types used in the Engine API. These are
// Go type aliases (=), identical to the internal types at compile time, so
// external consumers never import the internal packages directly.

type Manifest = manifest.Manifest
type Channel = manifest.Channel
type Component = manifest.Component
type Locator = manifest.Locator
type Status = manifest.Status
type Pipeline = manifest.Pipeline
type Step = manifest.Step
type Token = manifest.Token

type Resolution = toolchain.Resolution
type Source = toolchain.Source
type ConfigError = toolchain.ConfigError

type Installer = install.Installer
type InstallerFunc = install.InstallerFunc
type Request = install.Request
type InstallError = install.InstallError
type ChannelDir = install.ChannelDir

// Re-exported constants and sentinels, so callers match errors and name
// sources without reaching into internal packages.
const (
	StableName = manifest.StableName

	SourceDirectory = toolchain.SourceDirectory
	SourceDefault   = toolchain.SourceDefault
	SourceFallback  = toolchain.SourceFallback

	StatusInstalled  = manifest.StatusInstalled
	StatusInProgress = manifest.StatusInProgress
	StatusFailed     = manifest.StatusFailed
)

var (
	ErrMalformedManifest  = manifest.ErrMalformedManifest
	ErrUnsupportedLocator = manifest.ErrUnsupportedLocator
	ErrChannelNotFound    = manifest.ErrChannelNotFound
	ErrComponentNotFound  = manifest.ErrComponentNotFound
	ErrToolchainBusy      = install.ErrToolchainBusy
)
