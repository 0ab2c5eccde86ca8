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

// Package dockerexec is the Container Executor (§4.2): a pure side-effect
// wrapper around the host container engine. It knows nothing about
// projects, submissions or test output — only how to run one container to
// completion or timeout and hand back its raw logs and exit status.
package dockerexec

import (
	"bytes"
	"context"
	"fmt"
	"io"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/codepr/forgerunner/internal/model"
)

// purposelyStoppedExitCode is the sentinel the template entrypoint returns
// for a clean snapshot-only termination (§4.2 Exit-code translation).
const purposelyStoppedExitCode = 42

// Client wraps the engine SDK client with the exit-code translation and
// bind-mount conventions the Image Manager and Submission Controller share.
type Client struct {
	cli *client.Client
}

// NewClient dials the Docker daemon at the given socket/host. An empty
// socketPath defers to the engine SDK's own environment-derived default.
func NewClient(socketPath string) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, client.WithHost(socketPath))
	} else {
		opts = append(opts, client.FromEnv)
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, model.NewTaxonomyError(model.ErrDockerUnavailable, "docker client init failed", err)
	}
	return &Client{cli: cli}, nil
}

// Close releases the underlying engine connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// EnsureImage pulls the named image if it is not already present locally.
func (c *Client) EnsureImage(ctx context.Context, imageName string) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	rc, pullErr := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if pullErr != nil {
		return model.NewTaxonomyError(model.ErrDockerUnavailable, fmt.Sprintf("pull image %s", imageName), pullErr)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// BuildImage builds an image from a build context tarball rooted at
// buildContext, tagging it imageTag. Used by the Image Manager to produce
// one sandbox image per project (§4.1).
func (c *Client) BuildImage(ctx context.Context, buildContext io.Reader, imageTag string) error {
	resp, err := c.cli.ImageBuild(ctx, buildContext, buildImageOptions(imageTag))
	if err != nil {
		return model.NewTaxonomyError(model.ErrImageBuild, "image build request failed", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return model.NewTaxonomyError(model.ErrImageBuild, "image build stream failed", err)
	}
	return nil
}

// RemoveImage deletes the image and its dangling layers, matching the
// Image Manager's "delete the image (with prune)" contract (§4.1 Remove).
func (c *Client) RemoveImage(ctx context.Context, imageTag string) error {
	_, err := c.cli.ImageRemove(ctx, imageTag, image.RemoveOptions{Force: true, PruneChildren: true})
	return err
}

// bindMount builds the single read-write bind mount that puts a host
// directory at the image's conventional submission path (§4.2 Semantics).
func bindMount(hostDir, containerPath string) mount.Mount {
	return mount.Mount{
		Type:     mount.TypeBind,
		Source:   hostDir,
		Target:   containerPath,
		ReadOnly: false,
	}
}

func buildImageOptions(imageTag string) dockertypes.ImageBuildOptions {
	return dockertypes.ImageBuildOptions{
		Tags:       []string{imageTag},
		Remove:     true,
		Dockerfile: "Dockerfile",
	}
}

func readLogs(ctx context.Context, cli *client.Client, containerID string) (stdout, stderr string, err error) {
	rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, rc); err != nil && err != io.EOF {
		return outBuf.String(), errBuf.String(), err
	}
	return outBuf.String(), errBuf.String(), nil
}
