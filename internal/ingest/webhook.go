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

// Package ingest refreshes a project's template directly from its GitHub
// repository: a push webhook triggers a clone, the clone is packaged as a
// template archive, and handed to the Image Manager's ordinary build path.
// This keeps template archives out of band with manual multipart uploads
// for projects whose test suite lives in source control.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-github/v32/github"

	"github.com/codepr/forgerunner/internal/imagemgr"
)

// Builder is the slice of imagemgr.Manager the webhook handler depends on.
type Builder interface {
	Build(ctx context.Context, projectName string, archive []byte) (imagemgr.BuildResult, error)
}

// Handler validates and parses GitHub push webhooks, clones the pushed
// branch, and rebuilds the project's template.
type Handler struct {
	secret      []byte
	cloneRoot   string
	builder     Builder
	log         *log.Logger
}

// NewHandler constructs a webhook Handler. secret is the shared HMAC secret
// configured on the GitHub repository's webhook settings.
func NewHandler(secret []byte, cloneRoot string, builder Builder, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{secret: secret, cloneRoot: cloneRoot, builder: builder, log: logger}
}

// ServeHTTP implements http.Handler, adapted from the commit webhook
// handler's payload-validate-then-dispatch shape.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		h.log.Printf("ingest: error validating webhook payload: %v", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	defer r.Body.Close()

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.log.Printf("ingest: could not parse webhook: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	push, ok := event.(*github.PushEvent)
	if !ok {
		h.log.Printf("ingest: ignored event type %s", github.WebHookType(r))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	projectName := push.GetRepo().GetName()
	cloneURL := push.GetRepo().GetCloneURL()
	branch := defaultBranch(push)

	if err := h.refresh(r.Context(), projectName, cloneURL, branch); err != nil {
		h.log.Printf("ingest: refresh %s failed: %v", projectName, err)
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func referenceName(branch string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(branch)
}

func defaultBranch(push *github.PushEvent) string {
	if repo := push.GetRepo(); repo != nil && repo.GetDefaultBranch() != "" {
		return repo.GetDefaultBranch()
	}
	return "main"
}

// refresh clones cloneURL at branch, packages it as a template archive
// rooted at projectName/, and feeds it through the ordinary build path.
func (h *Handler) refresh(ctx context.Context, projectName, cloneURL, branch string) error {
	cloneDir, err := os.MkdirTemp(h.cloneRoot, projectName+"_clone_")
	if err != nil {
		return fmt.Errorf("ingest: create clone dir: %w", err)
	}
	defer os.RemoveAll(cloneDir)

	_, err = git.PlainCloneContext(ctx, cloneDir, false, &git.CloneOptions{
		URL:           cloneURL,
		ReferenceName: referenceName(branch),
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		return fmt.Errorf("ingest: clone %s: %w", cloneURL, err)
	}

	archive, err := zipDirectory(cloneDir, projectName)
	if err != nil {
		return fmt.Errorf("ingest: package clone as archive: %w", err)
	}

	_, err = h.builder.Build(ctx, projectName, archive)
	return err
}

func zipDirectory(root, topLevelDir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(filepath.ToSlash(rel), ".git/") || rel == ".git" {
			return nil
		}
		name := filepath.ToSlash(filepath.Join(topLevelDir, rel))
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
