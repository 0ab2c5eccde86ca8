// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package archivekit extracts and validates the zip archives carried by the
// project-upload and submission-execute bus messages (§4.1, §4.3). Every
// function here touches only the local filesystem: the archive bytes
// arrive already read off the wire.
package archivekit

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/codepr/forgerunner/internal/model"
)

// Kind selects which required-path rules Validate and Extract enforce.
type Kind int

const (
	// Template archives build a project image (§4.1 step 1).
	Template Kind = iota
	// Submission archives run against an already-built image (§4.3 step 2).
	Submission
)

const (
	testDir      = "test"
	srcDir       = "src"
	manifestFile = "foundry.toml"
	buildFile    = "Dockerfile"
)

// Validate checks a zip archive's required layout before any extraction or
// container work happens (§4.1 step 1, §4.3 step 2). It does not write
// anything to disk.
func Validate(kind Kind, archive []byte) error {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return model.NewTaxonomyError(model.ErrBadInput, "archive is not a valid zip", err)
	}
	if len(r.File) == 0 {
		return model.NewTaxonomyError(model.ErrBadInput, "archive is empty", nil)
	}

	names := make(map[string]bool, len(r.File))
	for _, f := range r.File {
		names[normalize(f.Name)] = true
	}

	switch kind {
	case Template:
		root := topLevelDir(r.File)
		if root == "" {
			return model.NewTaxonomyError(model.ErrBadInput, "template archive has no top-level project directory", nil)
		}
		required := []string{
			filepath.Join(root, testDir),
			filepath.Join(root, manifestFile),
			filepath.Join(root, buildFile),
		}
		for _, req := range required {
			if !hasPrefix(names, normalize(req)) {
				return model.NewTaxonomyError(model.ErrBadInput, fmt.Sprintf("template archive is missing required path %q", req), nil)
			}
		}
		if err := validateManifest(r.File, filepath.Join(root, manifestFile)); err != nil {
			return err
		}
	case Submission:
		if !hasPrefix(names, srcDir) {
			return model.NewTaxonomyError(model.ErrBadInput, "submission archive is missing the source tree", nil)
		}
	}
	return nil
}

// Extract writes the archive's contents under destDir, which the caller
// names per the scratch-directory convention (`<project>_creation_<epoch_ms>`
// or `<project>_submission_<ts>`, §4.1 step 2, §4.3 step 2). Extract does not
// validate; call Validate first.
func Extract(archive []byte, destDir string) error {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return model.NewTaxonomyError(model.ErrBadInput, "archive is not a valid zip", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("archivekit: create scratch dir: %w", err)
	}
	for _, f := range r.File {
		if err := extractOne(f, destDir); err != nil {
			return fmt.Errorf("archivekit: extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractOne(f *zip.File, destDir string) error {
	target, err := safeJoin(destDir, f.Name)
	if err != nil {
		return err
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// OverlayTemplate copies the repository's own template files (container
// build file, entry scripts) onto an extracted tree. Caller-supplied files
// win on every path except the container build file, which is always the
// repository template's (§4.1 step 2).
func OverlayTemplate(templateDir, extractedRoot string) error {
	return filepath.Walk(templateDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(templateDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dest := filepath.Join(extractedRoot, rel)
		if info.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		isBuildFile := filepath.Base(rel) == buildFile
		if !isBuildFile {
			if _, err := os.Stat(dest); err == nil {
				return nil
			}
		}
		return copyFile(path, dest, info.Mode())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// TestTreePath is the durable location where a project's immutable test
// tree is kept between builds and submissions, keyed by scratch root and
// project name so the Image Manager and Submission Controller (which share
// a scratch root but not process state) agree on it without coordination.
func TestTreePath(scratchRoot, projectName string) string {
	return filepath.Join(scratchRoot, "testtrees", projectName)
}

// SaveTestTree copies a freshly built project's test directory into its
// durable TestTreePath location, replacing whatever a previous build of the
// same project saved (§4.1 Invariant: a new template upload of the same
// name regenerates state atomically).
func SaveTestTree(projectRoot, scratchRoot, projectName string) error {
	src := filepath.Join(projectRoot, testDir)
	dest := TestTreePath(scratchRoot, projectName)
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

// ReseatTestDir re-copies the project's immutable test tree over a
// submission's extracted tree, enforcing that a submission archive cannot
// overwrite the test source directory (§4.3 step 2).
func ReseatTestDir(projectTestDir, extractedRoot string) error {
	dest := filepath.Join(extractedRoot, testDir)
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return filepath.Walk(projectTestDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(projectTestDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

// Cleanup removes a scratch directory unconditionally. Callers defer it on
// every exit path of the extract-build/run-parse-seal state machine.
func Cleanup(dir string) error {
	return os.RemoveAll(dir)
}

// foundryManifest is the subset of foundry.toml's `[profile.default]` table
// validateManifest decodes; other tables and keys are ignored.
type foundryManifest struct {
	Profile struct {
		Default struct {
			Src  string   `toml:"src"`
			Test string   `toml:"test"`
			Libs []string `toml:"libs"`
		} `toml:"default"`
	} `toml:"profile"`
}

// validateManifest decodes the template archive's foundry.toml build
// manifest, rejecting a malformed one before any container work happens
// (§4.1 step 1).
func validateManifest(files []*zip.File, manifestPath string) error {
	target := normalize(manifestPath)
	for _, f := range files {
		if normalize(f.Name) != target {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return model.NewTaxonomyError(model.ErrBadInput, "could not read foundry.toml", err)
		}
		defer rc.Close()
		var manifest foundryManifest
		if _, err := toml.NewDecoder(rc).Decode(&manifest); err != nil {
			return model.NewTaxonomyError(model.ErrBadInput, "foundry.toml is not valid TOML", err)
		}
		return nil
	}
	return model.NewTaxonomyError(model.ErrBadInput, "template archive is missing required path \"foundry.toml\"", nil)
}

func normalize(p string) string {
	return strings.Trim(filepath.ToSlash(p), "/")
}

func hasPrefix(names map[string]bool, prefix string) bool {
	for n := range names {
		if n == prefix || strings.HasPrefix(n, prefix+"/") {
			return true
		}
	}
	return false
}

func topLevelDir(files []*zip.File) string {
	for _, f := range files {
		parts := strings.SplitN(normalize(f.Name), "/", 2)
		if len(parts) == 2 && parts[0] != "" {
			return parts[0]
		}
	}
	return ""
}

func safeJoin(base, name string) (string, error) {
	target := filepath.Join(base, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, filepath.Clean(base)+string(os.PathSeparator)) && target != filepath.Clean(base) {
		return "", fmt.Errorf("archivekit: illegal file path %q", name)
	}
	return target, nil
}
