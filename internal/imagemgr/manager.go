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

// Package imagemgr is the Image Manager (§4.1): builds and tracks one
// sandbox image per project from a template archive.
package imagemgr

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codepr/forgerunner/internal/archivekit"
	"github.com/codepr/forgerunner/internal/dockerexec"
	"github.com/codepr/forgerunner/internal/model"
	"github.com/codepr/forgerunner/internal/parser"
	"github.com/codepr/forgerunner/internal/store"
)

// BaselineDiscoveryCommand is the sandbox tool's snapshot command, run once
// per build to derive the project's baseline test roster (§4.1 step 4).
var BaselineDiscoveryCommand = []string{"forge", "snapshot"}

const baselineTimeoutSec = 120

// engine is the slice of dockerexec.Client the Image Manager depends on.
// Accepting the interface rather than the concrete client lets tests
// substitute a fake engine with no Docker daemon involved.
type engine interface {
	EnsureImage(ctx context.Context, imageName string) error
	BuildImage(ctx context.Context, buildContext io.Reader, imageTag string) error
	RemoveImage(ctx context.Context, imageTag string) error
	Run(ctx context.Context, req dockerexec.RunRequest) (dockerexec.RunResult, error)
}

// Manager builds, looks up and removes per-project sandbox images.
type Manager struct {
	docker      engine
	projects    store.ProjectStore
	executions  store.ExecutionStore
	scratchRoot string
	templateDir string
	log         *log.Logger

	buildLocksMu sync.Mutex
	buildLocks   map[string]*sync.Mutex
}

// New wires a Manager from its collaborators. templateDir holds the
// repository's own template files (container build file, entry scripts)
// overlaid onto every extracted template archive (§4.1 step 2).
func New(docker engine, projects store.ProjectStore, executions store.ExecutionStore, scratchRoot, templateDir string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		docker:      docker,
		projects:    projects,
		executions:  executions,
		scratchRoot: scratchRoot,
		templateDir: templateDir,
		log:         logger,
		buildLocks:  make(map[string]*sync.Mutex),
	}
}

// BuildResult is the Image Manager's `build` contract output (§4.1).
type BuildResult struct {
	ImageID       string
	ImageTag      string
	BaselineTests []string
}

func (m *Manager) lockFor(projectName string) *sync.Mutex {
	m.buildLocksMu.Lock()
	defer m.buildLocksMu.Unlock()
	l, ok := m.buildLocks[projectName]
	if !ok {
		l = &sync.Mutex{}
		m.buildLocks[projectName] = l
	}
	return l
}

// Build runs the full build algorithm of §4.1: validate, extract, overlay,
// build, discover baseline, persist. Concurrent builds of the same project
// name are serialized by a per-project lock (§4.1 Invariant).
func (m *Manager) Build(ctx context.Context, projectName string, archive []byte) (BuildResult, error) {
	lock := m.lockFor(projectName)
	lock.Lock()
	defer lock.Unlock()

	if err := archivekit.Validate(archivekit.Template, archive); err != nil {
		return BuildResult{}, err
	}

	scratchDir := filepath.Join(m.scratchRoot, fmt.Sprintf("%s_creation_%d", projectName, time.Now().UnixMilli()))
	defer func() {
		if err := archivekit.Cleanup(scratchDir); err != nil {
			m.log.Printf("imagemgr: cleanup scratch dir %s: %v", scratchDir, err)
		}
	}()

	if err := archivekit.Extract(archive, scratchDir); err != nil {
		return BuildResult{}, err
	}
	projectRoot, err := soleSubdir(scratchDir)
	if err != nil {
		return BuildResult{}, model.NewTaxonomyError(model.ErrBadInput, "template archive has no project directory", err)
	}
	if err := archivekit.OverlayTemplate(m.templateDir, projectRoot); err != nil {
		return BuildResult{}, fmt.Errorf("imagemgr: overlay template: %w", err)
	}

	if err := archivekit.SaveTestTree(projectRoot, m.scratchRoot, projectName); err != nil {
		return BuildResult{}, fmt.Errorf("imagemgr: save test tree for %s: %w", projectName, err)
	}

	if baseImage, err := dockerfileBaseImage(filepath.Join(projectRoot, "Dockerfile")); err == nil && baseImage != "" {
		if err := m.docker.EnsureImage(ctx, baseImage); err != nil {
			return BuildResult{}, model.NewTaxonomyError(model.ErrDockerUnavailable, "ensure base image "+baseImage, err)
		}
	}

	imageTag := projectName + ":latest"
	buildCtx, err := tarDirectory(projectRoot)
	if err != nil {
		return BuildResult{}, fmt.Errorf("imagemgr: tar build context: %w", err)
	}
	if err := m.docker.BuildImage(ctx, buildCtx, imageTag); err != nil {
		_ = m.docker.RemoveImage(ctx, imageTag)
		return BuildResult{}, model.NewTaxonomyError(model.ErrImageBuild, "image build failed for "+projectName, err)
	}

	baselineTests, baselineOutput, err := m.runBaselineDiscovery(ctx, projectName, imageTag, projectRoot)
	if err != nil {
		_ = m.docker.RemoveImage(ctx, imageTag)
		return BuildResult{}, err
	}

	now := time.Now()
	project := &model.Project{
		Name:          projectName,
		ImageTag:      imageTag,
		BuildAt:       now,
		BaselineTests: baselineTests,
	}
	if set := project.BaselineSet(); len(set) != len(baselineTests) {
		m.log.Printf("imagemgr: baseline discovery for %s produced %d duplicate test name(s)", projectName, len(baselineTests)-len(set))
	}
	if err := m.projects.Upsert(ctx, project); err != nil {
		return BuildResult{}, fmt.Errorf("imagemgr: persist project %s: %w", projectName, err)
	}

	exec := &model.ContainerExecution{
		ID:          fmt.Sprintf("%s-creation-%d", projectName, now.UnixNano()),
		ProjectName: projectName,
		Purpose:     model.PurposeProjectCreation,
		Output:      baselineOutput,
	}
	exec.Seal(model.StatusSuccess, now, time.Now(), baselineOutput)
	if err := m.executions.Insert(ctx, exec); err != nil {
		m.log.Printf("imagemgr: persist baseline execution for %s: %v", projectName, err)
	}

	return BuildResult{ImageTag: imageTag, BaselineTests: baselineTests}, nil
}

func (m *Manager) runBaselineDiscovery(ctx context.Context, projectName, imageTag, srcMountDir string) ([]string, model.TestOutput, error) {
	res, err := m.docker.Run(ctx, dockerexec.RunRequest{
		ExecName:    fmt.Sprintf("%s_baseline_%d", projectName, time.Now().UnixMilli()),
		Image:       imageTag,
		Command:     BaselineDiscoveryCommand,
		SrcMountDir: srcMountDir,
		TimeoutSec:  baselineTimeoutSec,
	})
	if err != nil {
		return nil, model.TestOutput{}, err
	}
	if res.StatusCode != model.StatusPurposelyStopped {
		return nil, model.TestOutput{}, model.NewTaxonomyError(
			model.ErrBaselineDiscovery,
			fmt.Sprintf("baseline discovery for %s exited with status %s", projectName, res.StatusCode),
			nil,
		)
	}
	out := parser.Merge(parser.ParseGasSnapshot(res.Stdout), parser.ParseGasDiff(res.Stdout))
	tests := make([]string, 0, len(out.Tests))
	for _, t := range out.Tests {
		tests = append(tests, t.Test)
	}
	return tests, out, nil
}

// LookupByProject returns the project's current image metadata, or
// store.ErrNotFound if no image has been built for it.
func (m *Manager) LookupByProject(ctx context.Context, projectName string) (*model.Project, error) {
	return m.projects.LookupByName(ctx, projectName)
}

// Remove deletes the image (with prune) and the Project record; history
// records are retained but orphaned (§4.1 Remove).
func (m *Manager) Remove(ctx context.Context, projectName string) error {
	lock := m.lockFor(projectName)
	lock.Lock()
	defer lock.Unlock()

	project, err := m.projects.LookupByName(ctx, projectName)
	if err != nil {
		return err
	}
	if err := m.docker.RemoveImage(ctx, project.ImageTag); err != nil {
		m.log.Printf("imagemgr: remove image %s: %v", project.ImageTag, err)
	}
	return m.projects.Delete(ctx, projectName)
}

// dockerfileBaseImage reads the first FROM line of a Dockerfile so the base
// image can be pre-pulled (pull-if-not-present) before the build starts
// (§4.1 step 2). Only Build pre-pulls; container runs do not.
func dockerfileBaseImage(dockerfilePath string) (string, error) {
	f, err := os.Open(dockerfilePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && strings.EqualFold(fields[0], "FROM") {
			return fields[1], nil
		}
	}
	return "", scanner.Err()
}

func soleSubdir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(root, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no subdirectory found under %s", root)
}

func tarDirectory(root string) (*bytes.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return bytes.NewReader(buf.Bytes()), nil
}
