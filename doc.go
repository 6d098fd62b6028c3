// Package loomup manages installations of the Loom developer toolchain:
// versioned release channels of components, resolved per working directory
// and dispatched through a single proxy binary.
//
// # Model
//
// An upstream channel manifest catalogs release channels, each a semantic
// version bundling components (executables and libraries) plus alias
// pipelines. A local manifest under the engine home mirrors the channels
// actually installed, annotated with per-component status. The reserved
// channel name "stable" always resolves, at read time, to the greatest
// non-pre-release channel upstream.
//
// # Usage
//
// Create an Engine and drive it:
//
//	e, err := loomup.New()
//	if err != nil { ... }
//
//	ctx := context.Background()
//	err = e.Init(ctx)
//	err = e.InstallChannel(ctx, "stable", nil)
//
//	res, ch, err := e.Active(".")
//	err = e.Dispatch(ctx, ".", "loom", []string{"build"})
//
// # Resolution
//
// [Engine.Active] resolves the toolchain for a directory in strict
// precedence order: a loom-toolchain.toml found walking upward from the
// directory, then the recorded system default, then "stable". Resolution
// is a pure read and never installs anything.
//
// # Installation
//
// [Engine.InstallChannel] is idempotent and resumable: progress is logged
// per component and a completed channel carries a durable marker, so an
// interrupted run picks up where it stopped. Concurrent installs of one
// channel are excluded by an advisory lock.
//
// # Dispatch
//
// The loom binary examines its own invocation name once at startup. As
// "loomup" it is the management tool; under any other name it resolves the
// active toolchain and proxies the invoked command into it, expanding
// alias pipelines and propagating the child's exit status.
package loomup
