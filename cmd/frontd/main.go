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

// Command frontd is the front service: it terminates submitter HTTP
// requests, dispatches them over the bus to whichever rund instance picks
// them up, and tracks every request's lifecycle in the MessageRequest
// store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/codepr/forgerunner/internal/config"
	"github.com/codepr/forgerunner/internal/frontapi"
	"github.com/codepr/forgerunner/internal/queue"
	"github.com/codepr/forgerunner/internal/store"
)

var inMemory bool

func main() {
	flag.BoolVar(&inMemory, "in-memory", false, "use an in-memory MessageRequest store instead of MongoDB")
	flag.Parse()

	logger := log.New(os.Stdout, "[frontd] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}

	requests, closeStore := dialMessageRequestStore(cfg, logger)
	defer closeStore()

	bus, err := queue.Dial(cfg.RabbitMQHost)
	if err != nil {
		logger.Fatal(err)
	}
	defer bus.Close()

	uploadClient, err := queue.NewRPCClient(bus, queue.OpProjectUpload, cfg.InstanceID, logger)
	if err != nil {
		logger.Fatal(err)
	}
	execClient, err := queue.NewRPCClient(bus, queue.OpSubmissionExec, cfg.InstanceID, logger)
	if err != nil {
		logger.Fatal(err)
	}

	handlers := frontapi.NewHandlers(uploadClient, execClient, bus, requests, 60*time.Second, logger)
	srv := frontapi.NewServer(":"+cfg.Port, logger, handlers)

	if err := srv.Run(); err != nil {
		logger.Fatal(err)
	}
}

func dialMessageRequestStore(cfg *config.Config, logger *log.Logger) (store.MessageRequestStore, func()) {
	if inMemory {
		return store.NewMemoryMessageRequestStore(), func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mongo, err := store.Dial(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatal(err)
	}
	return mongo.MessageRequests(), func() { mongo.Close(context.Background()) }
}
