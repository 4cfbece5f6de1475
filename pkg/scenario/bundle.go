package scenario

import (
	"fmt"
	"strings"
)

// CodeBundle holds the four generated artifact texts for one scenario.
// Pure data; the source text is the only artifact ever rewritten, once,
// during the hot-patch phase.
type CodeBundle struct {
	BuildConfig  string // .cargo/config.toml
	Source       string // src/main.rs
	Manifest     string // Cargo.toml
	ToolchainPin string // rust-toolchain.toml
}

// BundleFor generates all four artifacts for a scenario.
func BundleFor(s Scenario, slug, readyMarker string, payloadValue uint64) CodeBundle {
	return CodeBundle{
		BuildConfig:  renderBuildConfig(s, slug),
		Source:       RenderSource(readyMarker, payloadValue),
		Manifest:     renderManifest(s, slug),
		ToolchainPin: toolchainPin,
	}
}

// RenderSource generates the payload application source. The hot-patch
// mutation regenerates it with the same marker and a new payload value,
// so any change the dev server picks up is confined to one constant.
func RenderSource(readyMarker string, payloadValue uint64) string {
	return fmt.Sprintf(`use bevy::prelude::*;

const READY_MARKER: &str = "%s";
const PAYLOAD_RANDOM_VALUE: u64 = %d;

fn main() {
    App::new()
        .add_plugins(DefaultPlugins)
        .add_systems(Startup, announce_ready)
        .add_systems(Update, heartbeat)
        .run();
}

fn announce_ready() {
    println!("{}", READY_MARKER);
    println!("PAYLOAD_RANDOM_VALUE={}", PAYLOAD_RANDOM_VALUE);
}

fn heartbeat(mut ticks: Local<u32>) {
    *ticks += 1;
    if *ticks %% 600 == 0 {
        println!("PAYLOAD_HEARTBEAT::{}::{}", READY_MARKER, *ticks);
    }
}
`, readyMarker, payloadValue)
}

// renderBuildConfig generates .cargo/config.toml. Every scenario gets an
// isolated target directory keyed by slug; env and linker sections appear
// only when the corresponding dimension selects them.
func renderBuildConfig(s Scenario, slug string) string {
	var out strings.Builder
	out.WriteString("[build]\n")
	fmt.Fprintf(&out, "target-dir = %q\n", "target/"+slug)

	type envLine struct{ key, value string }
	var envLines []envLine
	switch s.Cache {
	case CacheNoIncremental:
		envLines = append(envLines, envLine{"CARGO_INCREMENTAL", "0"})
	case CacheSccache:
		envLines = append(envLines, envLine{"RUSTC_WRAPPER", "sccache"})
	}
	if s.Codegen == CodegenShareGenerics {
		envLines = append(envLines, envLine{"RUSTFLAGS", "-Zshare-generics=y"})
	}

	if len(envLines) > 0 {
		out.WriteString("\n[env]\n")
		for _, line := range envLines {
			fmt.Fprintf(&out, "%s = %q\n", line.key, line.value)
		}
	}

	if s.Linker == LinkerRustLLD {
		out.WriteString("\n[target.'cfg(all())']\n")
		out.WriteString("linker = \"rust-lld.exe\"\n")
	}

	return out.String()
}

// renderManifest generates Cargo.toml with the framework dependency
// pinned and feature flags present only when selected.
func renderManifest(s Scenario, slug string) string {
	var features []string
	if s.Codegen == CodegenDynamicLinking {
		features = append(features, "dynamic_linking")
	}
	if s.Hotpatch == HotpatchDx {
		features = append(features, "hotpatching")
	}

	featuresClause := ""
	if len(features) > 0 {
		quoted := make([]string, len(features))
		for i, feature := range features {
			quoted[i] = fmt.Sprintf("%q", feature)
		}
		featuresClause = fmt.Sprintf(", features = [%s]", strings.Join(quoted, ", "))
	}

	return fmt.Sprintf(`[package]
name = "bench-payload-%s"
version = "0.1.0"
edition = "2024"

[dependencies]
bevy = { version = "0.17.2"%s }

[profile.dev]
opt-level = 1

[profile.dev.package."*"]
opt-level = 3
`, slug, featuresClause)
}

const toolchainPin = `[toolchain]
channel = "nightly"
components = ["llvm-tools-preview"]
profile = "default"
`
