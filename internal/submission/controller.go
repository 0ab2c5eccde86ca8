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

// Package submission is the Submission Controller (§4.3): accepts submission
// execute requests, orders them in a single FIFO queue, dispatches them
// through a fixed pool of N workers (so at most N container runs are live at
// once), and produces a final TestOutput per submission.
package submission

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codepr/forgerunner/internal/archivekit"
	"github.com/codepr/forgerunner/internal/dockerexec"
	"github.com/codepr/forgerunner/internal/model"
	"github.com/codepr/forgerunner/internal/parser"
	"github.com/codepr/forgerunner/internal/store"
)

// compareSnapshotsCommand is the tool's compare-snapshots command (§4.3
// step 3), the base command every submission run appends whitelisted
// execution arguments to.
var compareSnapshotsCommand = []string{"forge", "test", "--gas-report"}

// engine is the slice of dockerexec.Client the controller depends on.
type engine interface {
	Run(ctx context.Context, req dockerexec.RunRequest) (dockerexec.RunResult, error)
}

// projectLookup is the slice of imagemgr.Manager the controller depends on.
type projectLookup interface {
	LookupByProject(ctx context.Context, projectName string) (*model.Project, error)
}

const defaultContainerTimeoutSec = 60

// Request is one admitted submission (§4.3 Responsibility). TimeoutOverride,
// when non-zero, comes from a submission's `projectConfig.containerTimeout`
// (§6) and takes precedence over the project's own configured timeout.
type Request struct {
	ProjectName     string
	Archive         []byte
	ExecutionArgs   model.ExecutionArgs
	TimeoutOverride int
}

type job struct {
	ctx      context.Context
	req      Request
	position int
	resultCh chan jobResult
}

type jobResult struct {
	exec *model.ContainerExecution
	err  error
}

// Controller is the Submission Controller. Queue depends only on arrival
// order (§4.3 Admission and ordering); a fixed pool of N workers drains it,
// each worker processing one submission at a time, so the pool size is the
// cap on concurrent container runs.
type Controller struct {
	docker      engine
	images      projectLookup
	executions  store.ExecutionStore
	scratchRoot string
	log         *log.Logger

	queue chan job

	depthMu sync.Mutex
	depth   int
}

// New starts the controller's N-worker pool. Workers run until Stop closes
// the queue.
func New(docker engine, images projectLookup, executions store.ExecutionStore, scratchRoot string, concurrency int, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		docker:      docker,
		images:      images,
		executions:  executions,
		scratchRoot: scratchRoot,
		log:         logger,
		queue:       make(chan job, 256),
	}
	for i := 0; i < concurrency; i++ {
		go c.worker()
	}
	return c
}

// Stop closes the queue; in-flight workers drain what remains and exit.
func (c *Controller) Stop() {
	close(c.queue)
}

// Submit enqueues a submission and blocks until it is processed or ctx is
// cancelled. Cancellation before a worker has picked up the job is cheap:
// the worker skips the job without extracting or running anything;
// cancellation during a container run stops the container (§5 Cancellation).
func (c *Controller) Submit(ctx context.Context, req Request) (*model.ContainerExecution, error) {
	c.depthMu.Lock()
	c.depth++
	position := c.depth
	c.depthMu.Unlock()

	j := job{ctx: ctx, req: req, position: position, resultCh: make(chan jobResult, 1)}

	select {
	case c.queue <- j:
	case <-ctx.Done():
		return nil, model.NewTaxonomyError(model.ErrTimeoutWaitingBus, "submission cancelled before admission", ctx.Err())
	}

	select {
	case res := <-j.resultCh:
		return res.exec, res.err
	case <-ctx.Done():
		return nil, model.NewTaxonomyError(model.ErrTimeoutWaitingBus, "submission cancelled while queued or running", ctx.Err())
	}
}

// worker drains the FIFO queue one submission at a time, running the
// per-submission algorithm of §4.3 and recovering from any panic so one
// submission's failure never leaks into another worker (§4.3 Isolation).
func (c *Controller) worker() {
	for j := range c.queue {
		c.runOne(j)
	}
}

func (c *Controller) runOne(j job) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("submission: recovered panic processing %s: %v", j.req.ProjectName, r)
			j.resultCh <- jobResult{err: model.NewTaxonomyError(model.ErrInternal, "internal error processing submission", fmt.Errorf("%v", r))}
		}
	}()

	exec, err := c.process(j)
	j.resultCh <- jobResult{exec: exec, err: err}
}

// process implements the nine-step per-submission algorithm (§4.3).
func (c *Controller) process(j job) (*model.ContainerExecution, error) {
	ctx := j.ctx
	if err := ctx.Err(); err != nil {
		return nil, model.NewTaxonomyError(model.ErrTimeoutWaitingBus, "submission cancelled before processing", err)
	}
	project, err := c.images.LookupByProject(ctx, j.req.ProjectName)
	if err != nil {
		return nil, model.NewTaxonomyError(model.ErrProjectNotFound, "no image built for project "+j.req.ProjectName, err)
	}

	if err := archivekit.Validate(archivekit.Submission, j.req.Archive); err != nil {
		return nil, err
	}

	scratchDir := filepath.Join(c.scratchRoot, fmt.Sprintf("%s_submission_%d", j.req.ProjectName, time.Now().UnixNano()))
	defer func() {
		if err := archivekit.Cleanup(scratchDir); err != nil {
			c.log.Printf("submission: cleanup scratch dir %s: %v", scratchDir, err)
		}
	}()
	if err := archivekit.Extract(j.req.Archive, scratchDir); err != nil {
		return nil, err
	}

	testTreeDir := archivekit.TestTreePath(c.scratchRoot, j.req.ProjectName)
	if _, err := os.Stat(testTreeDir); err == nil {
		if err := archivekit.ReseatTestDir(testTreeDir, scratchDir); err != nil {
			return nil, fmt.Errorf("submission: reseat test dir for %s: %w", j.req.ProjectName, err)
		}
	}

	cmd := append([]string{}, compareSnapshotsCommand...)
	cmd = append(cmd, j.req.ExecutionArgs.Sanitize().ToFlags()...)

	timeoutSec := project.TimeoutOrDefault(defaultContainerTimeoutSec)
	if j.req.TimeoutOverride > 0 {
		timeoutSec = j.req.TimeoutOverride
	}
	started := time.Now()
	runRes, err := c.docker.Run(ctx, dockerexec.RunRequest{
		ExecName:    fmt.Sprintf("%s_submission_%d_%d", j.req.ProjectName, time.Now().UnixMilli(), j.position),
		Image:       project.ImageTag,
		Command:     cmd,
		SrcMountDir: scratchDir,
		TimeoutSec:  timeoutSec,
	})
	if err != nil {
		return nil, err
	}
	ended := time.Now()

	exec := &model.ContainerExecution{
		ID:           fmt.Sprintf("%s-submission-%d", j.req.ProjectName, started.UnixNano()),
		ProjectName:  j.req.ProjectName,
		Purpose:      model.PurposeSubmission,
		ExecutionArg: j.req.ExecutionArgs.Sanitize(),
	}

	out := outputForStatus(runRes)
	exec.Seal(runRes.StatusCode, started, ended, out)

	if err := c.executions.Insert(ctx, exec); err != nil {
		c.log.Printf("submission: persist execution for %s: %v", j.req.ProjectName, err)
	}
	return exec, nil
}

// outputForStatus builds the TestOutput per the status-dependent rules of
// §4.3 steps 5-8.
func outputForStatus(res dockerexec.RunResult) model.TestOutput {
	const stderrTruncateBound = 8192

	switch res.StatusCode {
	case model.StatusSuccess:
		return parser.Merge(parser.ParseForgeTest(res.Stdout), parser.ParseGasDiff(res.Stdout))
	case model.StatusPurposelyStopped:
		return parser.Merge(parser.ParseGasSnapshot(res.Stdout), parser.ParseGasDiff(res.Stdout))
	case model.StatusTimeout:
		return model.TestOutput{Tests: []model.TestRecord{{
			Test:   "container",
			Status: model.TestFail,
			Reason: truncate(res.Stderr, stderrTruncateBound),
		}}}
	default:
		return model.TestOutput{Tests: []model.TestRecord{{
			Test:   "container",
			Status: model.TestFail,
			Reason: truncate(res.Stderr, stderrTruncateBound),
		}}}
	}
}

func truncate(s string, bound int) string {
	if len(s) <= bound {
		return s
	}
	return s[:bound]
}
