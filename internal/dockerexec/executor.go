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

package dockerexec

import (
	"context"
	"errors"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"

	"github.com/codepr/forgerunner/internal/model"
)

// submissionMountPath is the sandbox image's conventional path for the
// bind-mounted submission source tree (§4.2 Semantics). The entrypoint
// overlays it onto the project workspace before running the command.
const submissionMountPath = "/workspace/submission"

// RunRequest is the Container Executor's contract input (§4.2 Contract).
type RunRequest struct {
	ExecName    string
	Image       string
	Command     []string
	SrcMountDir string
	TimeoutSec  int
}

// RunResult is the Container Executor's contract output (§4.2 Contract).
type RunResult struct {
	StatusCode model.StatusCode
	ElapsedMs  int64
	Stdout     string
	Stderr     string
}

// Run launches a single container from a known image against a submission's
// source tree, enforces a timeout, and produces a RunResult (§4.2).
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	timeout := time.Duration(req.TimeoutSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := c.cli.ContainerCreate(
		runCtx,
		&container.Config{
			Image: req.Image,
			Cmd:   req.Command,
		},
		&container.HostConfig{
			Mounts:     []mount.Mount{bindMount(req.SrcMountDir, submissionMountPath)},
			AutoRemove: false,
		},
		nil, nil, req.ExecName,
	)
	if err != nil {
		return RunResult{}, model.NewTaxonomyError(model.ErrDockerUnavailable, "container create failed", err)
	}
	containerID := created.ID
	defer func() {
		_ = c.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	started := time.Now()
	if err := c.cli.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return RunResult{}, model.NewTaxonomyError(model.ErrDockerUnavailable, "container start failed", err)
	}

	waitCh, errCh := c.cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)

	var (
		exitCode  int64
		timedOut  bool
	)
	select {
	case <-runCtx.Done():
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
		_ = c.cli.ContainerStop(context.Background(), containerID, container.StopOptions{})
	case resp := <-waitCh:
		exitCode = resp.StatusCode
	case err := <-errCh:
		return RunResult{}, model.NewTaxonomyError(model.ErrDockerUnavailable, "container wait failed", err)
	}

	elapsed := time.Since(started)
	stdout, stderr, logErr := readLogs(context.Background(), c.cli, containerID)
	if logErr != nil {
		return RunResult{}, model.NewTaxonomyError(model.ErrDockerUnavailable, "container logs read failed", logErr)
	}

	return RunResult{
		StatusCode: translateExitCode(exitCode, timedOut),
		ElapsedMs:  elapsed.Milliseconds(),
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

// translateExitCode implements §4.2's "Exit-code translation": raw engine
// code 0 → SUCCESS; the entrypoint's clean-snapshot sentinel →
// PURPOSELY_STOPPED; any other non-zero code → APPLICATION_ERROR;
// stop-by-timeout → TIMEOUT (checked first, it overrides whatever partial
// exit code a killed container reports).
func translateExitCode(code int64, timedOut bool) model.StatusCode {
	switch {
	case timedOut:
		return model.StatusTimeout
	case code == 0:
		return model.StatusSuccess
	case code == purposelyStoppedExitCode:
		return model.StatusPurposelyStopped
	default:
		return model.StatusApplicationError
	}
}
