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

// Command rund is the runner: it builds project images, runs submissions
// inside them, and serves the optional GitHub push webhook that keeps a
// project's template in sync with its repository.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/codepr/forgerunner/internal/config"
	"github.com/codepr/forgerunner/internal/dockerexec"
	"github.com/codepr/forgerunner/internal/imagemgr"
	"github.com/codepr/forgerunner/internal/ingest"
	"github.com/codepr/forgerunner/internal/queue"
	"github.com/codepr/forgerunner/internal/runnerapp"
	"github.com/codepr/forgerunner/internal/store"
	"github.com/codepr/forgerunner/internal/submission"
)

var inMemory bool

func main() {
	flag.BoolVar(&inMemory, "in-memory", false, "use in-memory project/execution stores instead of MongoDB")
	flag.Parse()

	logger := log.New(os.Stdout, "[rund] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}

	projects, executions, closeStore := dialStores(cfg, logger)
	defer closeStore()

	docker, err := dockerexec.NewClient(cfg.DockerSocketPath)
	if err != nil {
		logger.Fatal(err)
	}
	defer docker.Close()

	images := imagemgr.New(docker, projects, executions, cfg.ScratchRoot, cfg.TemplateDir, logger)
	submissions := submission.New(docker, images, executions, cfg.ScratchRoot, cfg.SubmissionConcurrency, logger)
	defer submissions.Stop()

	bus, err := queue.Dial(cfg.RabbitMQHost)
	if err != nil {
		logger.Fatal(err)
	}
	defer bus.Close()

	consumer := runnerapp.NewConsumer(bus, images, submissions, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(err)
	}

	var webhook http.Handler
	if h := ingestHandler(cfg, images, logger); h != nil {
		webhook = h
	}
	srv := runnerapp.NewServer(":"+cfg.Port, logger, webhook)

	if err := srv.Run(); err != nil {
		logger.Fatal(err)
	}
}

func dialStores(cfg *config.Config, logger *log.Logger) (store.ProjectStore, store.ExecutionStore, func()) {
	if inMemory {
		return store.NewMemoryProjectStore(), store.NewMemoryExecutionStore(), func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mongo, err := store.Dial(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatal(err)
	}
	return mongo.Projects(), mongo.Executions(), func() { mongo.Close(context.Background()) }
}

// ingestHandler wires the GitHub webhook enrichment feature when a secret is
// configured; rund runs perfectly well without it (manual archive upload
// alone is a complete project-upload path).
func ingestHandler(cfg *config.Config, images *imagemgr.Manager, logger *log.Logger) *ingest.Handler {
	if cfg.GitHubWebhookSecret == "" {
		return nil
	}
	return ingest.NewHandler([]byte(cfg.GitHubWebhookSecret), cfg.ScratchRoot, images, logger)
}
