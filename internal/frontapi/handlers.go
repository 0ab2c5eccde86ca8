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

package frontapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"gopkg.in/yaml.v2"

	"github.com/codepr/forgerunner/internal/model"
	"github.com/codepr/forgerunner/internal/queue"
	"github.com/codepr/forgerunner/internal/store"
)

const multipartMemoryLimit = 32 << 20 // 32MiB held in memory before spilling to disk, matching multipart's own default

// rpcCaller is the slice of queue.RPCClient the handlers depend on.
type rpcCaller interface {
	Call(ctx context.Context, requestQueue string, body []byte) (amqp.Delivery, error)
}

// publisher is the slice of queue.Bus the handlers depend on for one-way
// messages.
type publisher interface {
	Publish(queueName string, headers amqp.Table, correlationID, replyTo string, body []byte) error
}

// Handlers holds the RPC clients and stores every front-service endpoint
// needs. One RPCClient per bus operation, since each declares its own
// `<op>.reply.<instance>` queue (§4.5 Protocol).
type Handlers struct {
	uploadClient rpcCaller
	execClient   rpcCaller
	bus          publisher
	requests     store.MessageRequestStore
	log          *log.Logger
	callTimeout  time.Duration
}

// NewHandlers wires the front service's HTTP handlers to the bus and the
// MessageRequest store.
func NewHandlers(uploadClient, execClient *queue.RPCClient, bus *queue.Bus, requests store.MessageRequestStore, callTimeout time.Duration, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{
		uploadClient: uploadClient,
		execClient:   execClient,
		bus:          bus,
		requests:     requests,
		log:          logger,
		callTimeout:  callTimeout,
	}
}

func pathTail(prefix, path string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
}

func submitterID(r *http.Request) string {
	if id := r.Header.Get("X-Submitter-Id"); id != "" {
		return id
	}
	return "anonymous"
}

func writeTaxonomyError(w http.ResponseWriter, err error) {
	taxErr, ok := err.(*model.TaxonomyError)
	if !ok {
		taxErr = model.NewTaxonomyError(model.ErrInternal, err.Error(), err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(taxErr.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(taxErr)
}

// readProjectConfig decodes the optional `projectConfig` multipart field
// (§6). The JSON `projectConfig` is the primary path; a submission may send
// YAML on the same field instead. An empty field is not an error — most
// requests don't carry one.
func readProjectConfig(r *http.Request) (*model.ProjectConfig, error) {
	raw := r.FormValue("projectConfig")
	if raw == "" {
		return nil, nil
	}
	var cfg model.ProjectConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err == nil {
		return &cfg, nil
	}
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, model.NewTaxonomyError(model.ErrBadInput, "malformed projectConfig", err)
	}
	return &cfg, nil
}

func readArchiveField(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return nil, model.NewTaxonomyError(model.ErrBadInput, "malformed multipart body", err)
	}
	file, _, err := r.FormFile("archive")
	if err != nil {
		return nil, model.NewTaxonomyError(model.ErrBadInput, "missing \"archive\" form file", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, model.NewTaxonomyError(model.ErrBadInput, "could not read archive body", err)
	}
	return data, nil
}

// handleProject dispatches project-upload.request (POST, template archive)
// and project-removal.request (DELETE, one-way, §4.5 Envelopes) for
// /projects/{name}.
func (h *Handlers) handleProject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectName := pathTail("/projects/", r.URL.Path)
		if projectName == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodPost:
			h.postProject(w, r, projectName)
		case http.MethodDelete:
			h.deleteProject(w, r, projectName)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (h *Handlers) postProject(w http.ResponseWriter, r *http.Request, projectName string) {
	archive, err := readArchiveField(r)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	body, err := queue.EncodeArchiveEnvelope(queue.ProjectUploadHeader{ProjectName: projectName}, archive)
	if err != nil {
		writeTaxonomyError(w, model.NewTaxonomyError(model.ErrInternal, "could not frame envelope", err))
		return
	}

	msgReq := &model.MessageRequest{
		ID:          uuid.New().String(),
		SubmitterID: submitterID(r),
		Status:      model.RequestPending,
		CreatedAt:   time.Now(),
	}
	if err := h.requests.Insert(r.Context(), msgReq); err != nil {
		h.log.Printf("frontapi: persist message request: %v", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
	defer cancel()
	delivery, err := h.uploadClient.Call(ctx, queue.OpProjectUpload+".request", body)
	if err != nil {
		msgReq.Complete(nil, taxonomyErrorOf(err))
		_ = h.requests.Update(r.Context(), msgReq)
		writeTaxonomyError(w, err)
		return
	}

	var reply queue.ProjectUploadReply
	if err := json.Unmarshal(delivery.Body, &reply); err != nil {
		taxErr := model.NewTaxonomyError(model.ErrInternal, "could not decode project-upload reply", err)
		msgReq.Complete(nil, taxErr)
		_ = h.requests.Update(r.Context(), msgReq)
		writeTaxonomyError(w, taxErr)
		return
	}

	var replyErr *model.TaxonomyError
	if reply.Kind != "" {
		replyErr = model.NewTaxonomyError(reply.Kind, reply.Message, nil)
	}
	msgReq.Complete(reply, replyErr)
	if err := h.requests.Update(r.Context(), msgReq); err != nil {
		h.log.Printf("frontapi: update message request %s: %v", msgReq.ID, err)
	}

	if replyErr != nil {
		writeTaxonomyError(w, replyErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (h *Handlers) deleteProject(w http.ResponseWriter, r *http.Request, projectName string) {
	body, err := json.Marshal(queue.ProjectRemovalMessage{ProjectName: projectName})
	if err != nil {
		writeTaxonomyError(w, model.NewTaxonomyError(model.ErrInternal, "could not marshal removal message", err))
		return
	}
	if err := h.bus.Publish(queue.OpProjectRemoval+".request", nil, "", "", body); err != nil {
		writeTaxonomyError(w, model.NewTaxonomyError(model.ErrInternal, "could not publish removal request", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleSubmission dispatches submission-execute.request for
// /submissions/{projectName}, forwarding whitelisted execution args from
// the multipart form fields (§6 Whitelisted execution arguments).
func (h *Handlers) handleSubmission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectName := pathTail("/submissions/", r.URL.Path)
		if projectName == "" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		archive, err := readArchiveField(r)
		if err != nil {
			writeTaxonomyError(w, err)
			return
		}

		cfg, err := readProjectConfig(r)
		if err != nil {
			writeTaxonomyError(w, err)
			return
		}

		args := make(model.ExecutionArgs)
		if cfg != nil {
			for k, v := range cfg.TestExecutionArguments {
				args[k] = v
			}
		}
		for _, k := range []string{
			"matchContract", "matchTest", "matchPath",
			"noMatchContract", "noMatchTest", "noMatchPath",
			"fuzzRuns", "fuzzSeed",
		} {
			if v := r.FormValue(k); v != "" {
				args[k] = v
			}
		}

		var timeoutOverride int
		if cfg != nil {
			timeoutOverride = cfg.ContainerTimeout
		}

		correlationID := uuid.New().String()
		body, err := queue.EncodeArchiveEnvelope(queue.SubmissionExecuteHeader{
			ProjectName:     projectName,
			CorrelationID:   correlationID,
			ExecutionArgs:   args,
			TimeoutOverride: timeoutOverride,
		}, archive)
		if err != nil {
			writeTaxonomyError(w, model.NewTaxonomyError(model.ErrInternal, "could not frame envelope", err))
			return
		}

		msgReq := &model.MessageRequest{
			ID:            uuid.New().String(),
			SubmitterID:   submitterID(r),
			Status:        model.RequestPending,
			CorrelationID: correlationID,
			CreatedAt:     time.Now(),
		}
		if err := h.requests.Insert(r.Context(), msgReq); err != nil {
			h.log.Printf("frontapi: persist message request: %v", err)
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
		defer cancel()
		delivery, err := h.execClient.Call(ctx, queue.OpSubmissionExec+".request", body)
		if err != nil {
			msgReq.Complete(nil, taxonomyErrorOf(err))
			_ = h.requests.Update(r.Context(), msgReq)
			writeTaxonomyError(w, err)
			return
		}

		var resp model.ContainerExecutionResponse
		if err := json.Unmarshal(delivery.Body, &resp); err != nil {
			taxErr := model.NewTaxonomyError(model.ErrInternal, "could not decode submission-execute reply", err)
			msgReq.Complete(nil, taxErr)
			_ = h.requests.Update(r.Context(), msgReq)
			writeTaxonomyError(w, taxErr)
			return
		}

		var replyErr *model.TaxonomyError
		if resp.Kind != "" {
			replyErr = model.NewTaxonomyError(resp.Kind, resp.Message, nil)
		}
		msgReq.Complete(resp, replyErr)
		if err := h.requests.Update(r.Context(), msgReq); err != nil {
			h.log.Printf("frontapi: update message request %s: %v", msgReq.ID, err)
		}

		if replyErr != nil {
			writeTaxonomyError(w, replyErr)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleRequestHistory serves GET /requests/{submitterId}, the supplemented
// MessageRequest history read endpoint.
func (h *Handlers) handleRequestHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := pathTail("/requests/", r.URL.Path)
		if id == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		history, err := h.requests.ListBySubmitter(r.Context(), id)
		if err != nil {
			writeTaxonomyError(w, fmt.Errorf("frontapi: list message requests for %s: %w", id, err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(history)
	}
}

func taxonomyErrorOf(err error) *model.TaxonomyError {
	if taxErr, ok := err.(*model.TaxonomyError); ok {
		return taxErr
	}
	return model.NewTaxonomyError(model.ErrInternal, err.Error(), err)
}
