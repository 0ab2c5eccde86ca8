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

package imagemgr

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/codepr/forgerunner/internal/dockerexec"
	"github.com/codepr/forgerunner/internal/model"
	"github.com/codepr/forgerunner/internal/store"
)

type fakeEngine struct {
	buildErr    error
	ensureErr   error
	ensured     []string
	runResult   dockerexec.RunResult
	runErr      error
	removed     []string
	builtTags   []string
}

func (f *fakeEngine) EnsureImage(_ context.Context, imageName string) error {
	f.ensured = append(f.ensured, imageName)
	return f.ensureErr
}

func (f *fakeEngine) BuildImage(_ context.Context, _ io.Reader, imageTag string) error {
	f.builtTags = append(f.builtTags, imageTag)
	return f.buildErr
}

func (f *fakeEngine) RemoveImage(_ context.Context, imageTag string) error {
	f.removed = append(f.removed, imageTag)
	return nil
}

func (f *fakeEngine) Run(_ context.Context, _ dockerexec.RunRequest) (dockerexec.RunResult, error) {
	return f.runResult, f.runErr
}

func buildTemplateZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	files := map[string]string{
		"myproject/test/Foo.t.sol": "contract",
		"myproject/foundry.toml":   "[profile.default]",
		"myproject/Dockerfile":     "FROM scratch",
	}
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestManager(t *testing.T, eng *fakeEngine) (*Manager, store.ProjectStore) {
	t.Helper()
	projects := store.NewMemoryProjectStore()
	execs := store.NewMemoryExecutionStore()
	templateDir := filepath.Join(t.TempDir(), "template")
	if err := os.MkdirAll(templateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return New(eng, projects, execs, t.TempDir(), templateDir, nil), projects
}

func TestBuildHappyPathPersistsProjectAndBaseline(t *testing.T) {
	eng := &fakeEngine{
		runResult: dockerexec.RunResult{
			StatusCode: model.StatusPurposelyStopped,
			Stdout:     "A:testFoo() (gas: 100)\n",
		},
	}
	m, projects := newTestManager(t, eng)

	res, err := m.Build(context.Background(), "myproject", buildTemplateZip(t))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if res.ImageTag != "myproject:latest" {
		t.Errorf("unexpected image tag: %s", res.ImageTag)
	}
	if len(res.BaselineTests) != 1 || res.BaselineTests[0] != "A.testFoo" {
		t.Errorf("unexpected baseline tests: %v", res.BaselineTests)
	}

	got, err := projects.LookupByName(context.Background(), "myproject")
	if err != nil {
		t.Fatalf("expected project to be persisted: %v", err)
	}
	if len(got.BaselineTests) != 1 || got.BaselineTests[0] != "A.testFoo" {
		t.Errorf("unexpected persisted baseline: %v", got.BaselineTests)
	}
}

func TestBuildMergesGasDiffIntoBaselineExecution(t *testing.T) {
	eng := &fakeEngine{
		runResult: dockerexec.RunResult{
			StatusCode: model.StatusPurposelyStopped,
			Stdout:     "A:testFoo() (gas: 100)\nA:\ntestFoo() (gas: 100 (Δ +10))\n",
		},
	}
	projects := store.NewMemoryProjectStore()
	execs := store.NewMemoryExecutionStore()
	templateDir := filepath.Join(t.TempDir(), "template")
	if err := os.MkdirAll(templateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	m := New(eng, projects, execs, t.TempDir(), templateDir, nil)

	if _, err := m.Build(context.Background(), "myproject", buildTemplateZip(t)); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	history, err := execs.ListByProject(context.Background(), "myproject")
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one persisted baseline execution, got %v (err %v)", history, err)
	}
	tests := history[0].Output.Tests
	if len(tests) != 1 || tests[0].Test != "A.testFoo" {
		t.Fatalf("unexpected baseline test record: %+v", tests)
	}
	if tests[0].GasUsed == nil || *tests[0].GasUsed != 100 {
		t.Errorf("expected gasUsed from the gas-snapshot parser to survive merge, got %v", tests[0].GasUsed)
	}
	if tests[0].GasDiff == nil || *tests[0].GasDiff != 10 {
		t.Errorf("expected gasDiff from the gas-diff parser to be merged in, got %v", tests[0].GasDiff)
	}
}

func TestBuildEnsuresDockerfileBaseImageBeforeBuilding(t *testing.T) {
	eng := &fakeEngine{
		runResult: dockerexec.RunResult{StatusCode: model.StatusPurposelyStopped, Stdout: "A:testFoo() (gas: 1)\n"},
	}
	m, _ := newTestManager(t, eng)

	if _, err := m.Build(context.Background(), "myproject", buildTemplateZip(t)); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(eng.ensured) != 1 || eng.ensured[0] != "scratch" {
		t.Errorf("expected the Dockerfile's FROM image to be ensured, got %v", eng.ensured)
	}
}

func TestBuildFailsWhenBaseImageCannotBeEnsured(t *testing.T) {
	eng := &fakeEngine{ensureErr: io.ErrUnexpectedEOF}
	m, _ := newTestManager(t, eng)

	_, err := m.Build(context.Background(), "myproject", buildTemplateZip(t))
	if err == nil {
		t.Fatal("expected error when the base image cannot be ensured")
	}
	taxErr, ok := err.(*model.TaxonomyError)
	if !ok || taxErr.Kind != model.ErrDockerUnavailable {
		t.Errorf("expected DOCKER_UNAVAILABLE, got %v", err)
	}
}

func TestBuildFailsOnBadTemplateArchive(t *testing.T) {
	eng := &fakeEngine{}
	m, _ := newTestManager(t, eng)

	_, err := m.Build(context.Background(), "myproject", []byte("not a zip"))
	if err == nil {
		t.Fatal("expected error for invalid archive")
	}
}

func TestBuildTearsDownImageOnBaselineDiscoveryFailure(t *testing.T) {
	eng := &fakeEngine{
		runResult: dockerexec.RunResult{StatusCode: model.StatusApplicationError, Stderr: "boom"},
	}
	m, projects := newTestManager(t, eng)

	_, err := m.Build(context.Background(), "myproject", buildTemplateZip(t))
	if err == nil {
		t.Fatal("expected baseline discovery failure")
	}
	taxErr, ok := err.(*model.TaxonomyError)
	if !ok || taxErr.Kind != model.ErrBaselineDiscovery {
		t.Errorf("expected BASELINE_DISCOVERY error, got %v", err)
	}
	if len(eng.removed) != 1 {
		t.Errorf("expected the partial image to be torn down, got %v", eng.removed)
	}
	if _, err := projects.LookupByName(context.Background(), "myproject"); err == nil {
		t.Error("expected project to not be persisted on baseline discovery failure")
	}
}

func TestBuildFailsOnImageBuildError(t *testing.T) {
	eng := &fakeEngine{buildErr: io.ErrUnexpectedEOF}
	m, _ := newTestManager(t, eng)

	_, err := m.Build(context.Background(), "myproject", buildTemplateZip(t))
	if err == nil {
		t.Fatal("expected image build error")
	}
	taxErr, ok := err.(*model.TaxonomyError)
	if !ok || taxErr.Kind != model.ErrImageBuild {
		t.Errorf("expected IMAGE_BUILD error, got %v", err)
	}
}

func TestRemoveDeletesImageAndProject(t *testing.T) {
	eng := &fakeEngine{
		runResult: dockerexec.RunResult{StatusCode: model.StatusPurposelyStopped, Stdout: "A:testFoo() (gas: 1)\n"},
	}
	m, projects := newTestManager(t, eng)
	if _, err := m.Build(context.Background(), "myproject", buildTemplateZip(t)); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove(context.Background(), "myproject"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := projects.LookupByName(context.Background(), "myproject"); err == nil {
		t.Error("expected project to be gone after remove")
	}
	if len(eng.removed) != 1 {
		t.Errorf("expected image removal to be invoked, got %v", eng.removed)
	}
}

func TestLookupByProjectMissing(t *testing.T) {
	m, _ := newTestManager(t, &fakeEngine{})
	if _, err := m.LookupByProject(context.Background(), "nope"); err == nil {
		t.Error("expected error looking up unbuilt project")
	}
}
