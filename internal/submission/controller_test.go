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

package submission

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codepr/forgerunner/internal/archivekit"
	"github.com/codepr/forgerunner/internal/dockerexec"
	"github.com/codepr/forgerunner/internal/model"
	"github.com/codepr/forgerunner/internal/store"
)

type fakeProjects struct {
	project *model.Project
}

func (f *fakeProjects) LookupByProject(_ context.Context, name string) (*model.Project, error) {
	if f.project == nil || f.project.Name != name {
		return nil, store.ErrNotFound
	}
	return f.project, nil
}

type fakeEngine struct {
	mu            sync.Mutex
	result        dockerexec.RunResult
	err           error
	inflight      int32
	maxConcurrent int32
	delay         time.Duration

	captureTestFile     string
	capturedTestContent string
}

func (f *fakeEngine) Run(ctx context.Context, req dockerexec.RunRequest) (dockerexec.RunResult, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)

	f.mu.Lock()
	if cur > f.maxConcurrent {
		f.maxConcurrent = cur
	}
	if f.captureTestFile != "" {
		data, _ := os.ReadFile(filepath.Join(req.SrcMountDir, "test", f.captureTestFile))
		f.capturedTestContent = string(data)
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return dockerexec.RunResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func buildSubmissionZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("src/Solution.sol")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("contract Solution {}")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSubmitSuccessParsesForgeTestOutput(t *testing.T) {
	eng := &fakeEngine{result: dockerexec.RunResult{
		StatusCode: model.StatusSuccess,
		Stdout:     "Running 1 test for test/A.t.sol:A\n[PASS] testFoo() (gas: 10)\nTest result: ok. 1 passed; 0 failed; 0 skipped; finished in 1ms\n",
	}}
	projects := &fakeProjects{project: &model.Project{Name: "alpha", ImageTag: "alpha:latest"}}
	execs := store.NewMemoryExecutionStore()
	c := New(eng, projects, execs, t.TempDir(), 2, nil)
	defer c.Stop()

	exec, err := c.Submit(context.Background(), Request{ProjectName: "alpha", Archive: buildSubmissionZip(t)})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if exec.Status != model.StatusSuccess {
		t.Errorf("expected SUCCESS status, got %s", exec.Status)
	}
	if len(exec.Output.Tests) != 1 || exec.Output.Tests[0].Test != "A.testFoo" {
		t.Errorf("expected suite-qualified test name A.testFoo per the worked example, got: %+v", exec.Output)
	}
}

func TestSubmitSuccessMergesGasDiffAnnotations(t *testing.T) {
	eng := &fakeEngine{result: dockerexec.RunResult{
		StatusCode: model.StatusSuccess,
		Stdout: "Running 1 test for test/A.t.sol:A\n[PASS] testFoo() (gas: 110)\n" +
			"Test result: ok. 1 passed; 0 failed; 0 skipped; finished in 1ms\n" +
			"A:\ntestFoo() (gas: 110 (Δ +10))\n",
	}}
	projects := &fakeProjects{project: &model.Project{Name: "alpha", ImageTag: "alpha:latest"}}
	execs := store.NewMemoryExecutionStore()
	c := New(eng, projects, execs, t.TempDir(), 2, nil)
	defer c.Stop()

	exec, err := c.Submit(context.Background(), Request{ProjectName: "alpha", Archive: buildSubmissionZip(t)})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(exec.Output.Tests) != 1 {
		t.Fatalf("expected tests from both parsers to merge into one record, got %+v", exec.Output.Tests)
	}
	rec := exec.Output.Tests[0]
	if rec.Status != model.TestPass {
		t.Errorf("expected PASS status to survive merge, got %s", rec.Status)
	}
	if rec.GasDiff == nil || *rec.GasDiff != 10 {
		t.Errorf("expected gasDiff from the gas-diff parser to be merged in, got %v", rec.GasDiff)
	}
}

func buildSubmissionZipWithTestFile(t *testing.T, testFileContent string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"src/Solution.sol":     "contract Solution {}",
		"test/Malicious.t.sol": testFileContent,
	} {
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

func TestSubmitReseatsTestDirFromSavedProjectTestTree(t *testing.T) {
	scratchRoot := t.TempDir()
	testTreeDir := archivekit.TestTreePath(scratchRoot, "alpha")
	if err := os.MkdirAll(testTreeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(testTreeDir, "Malicious.t.sol"), []byte("protected contract test"), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := &fakeEngine{
		result:          dockerexec.RunResult{StatusCode: model.StatusSuccess},
		captureTestFile: "Malicious.t.sol",
	}
	projects := &fakeProjects{project: &model.Project{Name: "alpha", ImageTag: "alpha:latest"}}
	execs := store.NewMemoryExecutionStore()
	c := New(eng, projects, execs, scratchRoot, 1, nil)
	defer c.Stop()

	_, err := c.Submit(context.Background(), Request{
		ProjectName: "alpha",
		Archive:     buildSubmissionZipWithTestFile(t, "attacker-controlled test content"),
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if eng.capturedTestContent != "protected contract test" {
		t.Errorf("expected the project's saved test tree to win over the submission's own test dir, got %q", eng.capturedTestContent)
	}
}

func TestSubmitUnknownProjectFailsProjectNotFound(t *testing.T) {
	eng := &fakeEngine{}
	projects := &fakeProjects{}
	execs := store.NewMemoryExecutionStore()
	c := New(eng, projects, execs, t.TempDir(), 1, nil)
	defer c.Stop()

	_, err := c.Submit(context.Background(), Request{ProjectName: "ghost", Archive: buildSubmissionZip(t)})
	if err == nil {
		t.Fatal("expected error for unknown project")
	}
	taxErr, ok := err.(*model.TaxonomyError)
	if !ok || taxErr.Kind != model.ErrProjectNotFound {
		t.Errorf("expected PROJECT_NOT_FOUND, got %v", err)
	}
}

func TestSubmitBadArchiveFailsBadInput(t *testing.T) {
	eng := &fakeEngine{}
	projects := &fakeProjects{project: &model.Project{Name: "alpha", ImageTag: "alpha:latest"}}
	execs := store.NewMemoryExecutionStore()
	c := New(eng, projects, execs, t.TempDir(), 1, nil)
	defer c.Stop()

	_, err := c.Submit(context.Background(), Request{ProjectName: "alpha", Archive: []byte("not a zip")})
	if err == nil {
		t.Fatal("expected error for invalid submission archive")
	}
}

func TestSubmitTimeoutYieldsTimeoutStatus(t *testing.T) {
	eng := &fakeEngine{result: dockerexec.RunResult{StatusCode: model.StatusTimeout, Stderr: "stuck"}}
	projects := &fakeProjects{project: &model.Project{Name: "alpha", ImageTag: "alpha:latest"}}
	execs := store.NewMemoryExecutionStore()
	c := New(eng, projects, execs, t.TempDir(), 1, nil)
	defer c.Stop()

	exec, err := c.Submit(context.Background(), Request{ProjectName: "alpha", Archive: buildSubmissionZip(t)})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if exec.Status != model.StatusTimeout {
		t.Errorf("expected TIMEOUT status, got %s", exec.Status)
	}
}

func TestConcurrencyCapIsRespected(t *testing.T) {
	const n = 3
	eng := &fakeEngine{
		result: dockerexec.RunResult{StatusCode: model.StatusSuccess},
		delay:  50 * time.Millisecond,
	}
	projects := &fakeProjects{project: &model.Project{Name: "alpha", ImageTag: "alpha:latest"}}
	execs := store.NewMemoryExecutionStore()
	c := New(eng, projects, execs, t.TempDir(), n, nil)
	defer c.Stop()

	archive := buildSubmissionZip(t)
	var wg sync.WaitGroup
	for i := 0; i < n*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Submit(context.Background(), Request{ProjectName: "alpha", Archive: archive})
		}()
	}
	wg.Wait()

	if eng.maxConcurrent > n {
		t.Errorf("expected at most %d concurrent container runs, observed %d", n, eng.maxConcurrent)
	}
}
