// Package workspace materializes the ephemeral project directory one
// scenario builds and patches in.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"buildbench/pkg/logx"
	"buildbench/pkg/scenario"
)

// Workspace owns one ephemeral directory holding a materialized code
// bundle. The directory is created at provisioning and removed by
// Cleanup, error paths included; no two scenarios ever share one.
type Workspace struct {
	root   string
	logger *logx.Logger
}

// Provision creates a uniquely named temporary directory and writes the
// four generated artifacts for the prepared scenario.
func Provision(prepared scenario.Prepared) (*Workspace, error) {
	root, err := os.MkdirTemp("", "bench-"+prepared.Slug+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary workspace: %w", err)
	}

	w := &Workspace{
		root:   root,
		logger: logx.NewLogger("workspace"),
	}
	if err := w.writeBundle(prepared.Code); err != nil {
		w.Cleanup()
		return nil, err
	}

	w.logger.Debug("Provisioned workspace for %s at %s", prepared.Slug, root)
	return w, nil
}

func (w *Workspace) writeBundle(code scenario.CodeBundle) error {
	if err := os.MkdirAll(filepath.Join(w.root, "src"), 0755); err != nil {
		return fmt.Errorf("failed to create src directory in workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(w.root, ".cargo"), 0755); err != nil {
		return fmt.Errorf("failed to create .cargo directory in workspace: %w", err)
	}

	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(w.root, "Cargo.toml"), code.Manifest},
		{w.SourceFile(), code.Source},
		{filepath.Join(w.root, ".cargo", "config.toml"), code.BuildConfig},
		{filepath.Join(w.root, "rust-toolchain.toml"), code.ToolchainPin},
	}
	for _, file := range files {
		if err := os.WriteFile(file.path, []byte(file.content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", filepath.Base(file.path), err)
		}
	}
	return nil
}

// Root returns the workspace directory path, used as the working
// directory for build and dev-server commands.
func (w *Workspace) Root() string {
	return w.root
}

// SourceFile returns the path of the mutable generated source file.
func (w *Workspace) SourceFile() string {
	return filepath.Join(w.root, "src", "main.rs")
}

// RewriteSource overwrites the generated source file in place. Only the
// source artifact is ever rewritten; manifest, build config, and
// toolchain pin stay untouched for the workspace's lifetime.
func (w *Workspace) RewriteSource(content string) error {
	if err := os.WriteFile(w.SourceFile(), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to update payload source for hotpatch: %w", err)
	}
	return nil
}

// Cleanup removes the workspace directory. Safe to call more than once.
func (w *Workspace) Cleanup() {
	if w.root == "" {
		return
	}
	if err := os.RemoveAll(w.root); err != nil {
		w.logger.Warn("Failed to clean up workspace %s: %v", w.root, err)
		return
	}
	w.logger.Debug("Removed workspace %s", w.root)
	w.root = ""
}
