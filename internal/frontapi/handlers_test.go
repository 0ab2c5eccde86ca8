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
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"github.com/codepr/forgerunner/internal/model"
	"github.com/codepr/forgerunner/internal/queue"
	"github.com/codepr/forgerunner/internal/store"
)

type fakeRPC struct {
	reply amqp.Delivery
	err   error
}

func (f *fakeRPC) Call(_ context.Context, _ string, _ []byte) (amqp.Delivery, error) {
	return f.reply, f.err
}

// capturingRPC records the body passed to Call, so a test can decode the
// envelope the handler actually sent to the bus.
type capturingRPC struct {
	fakeRPC
	captured *[]byte
}

func (c *capturingRPC) Call(ctx context.Context, requestQueue string, body []byte) (amqp.Delivery, error) {
	*c.captured = body
	return c.fakeRPC.Call(ctx, requestQueue, body)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeEnvelopeForTest(body []byte) ([]byte, queue.SubmissionExecuteHeader, error) {
	var header queue.SubmissionExecuteHeader
	archive, err := queue.DecodeArchiveEnvelope(body, &header)
	return archive, header, err
}

type fakeBus struct {
	published []string
}

func (f *fakeBus) Publish(queueName string, _ amqp.Table, _, _ string, _ []byte) error {
	f.published = append(f.published, queueName)
	return nil
}

func multipartArchiveBody(t *testing.T, fieldValues map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("archive", "archive.zip")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("pretend zip bytes")); err != nil {
		t.Fatal(err)
	}
	for k, v := range fieldValues {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf, w.FormDataContentType()
}

func TestPostProjectHappyPathCompletesMessageRequest(t *testing.T) {
	replyBody, _ := json.Marshal(queue.ProjectUploadReply{Status: "SUCCESS", ImageID: "sha256:abc"})
	upload := &fakeRPC{reply: amqp.Delivery{Body: replyBody}}
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.uploadClient = upload

	body, contentType := multipartArchiveBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/projects/alpha", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.handleProject()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	history, err := requests.ListBySubmitter(context.Background(), "anonymous")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != model.RequestCompleted || history[0].IsError {
		t.Errorf("unexpected message request state: %+v", history)
	}
}

func TestPostProjectPropagatesRunnerErrorKind(t *testing.T) {
	replyBody, _ := json.Marshal(queue.ProjectUploadReply{Kind: model.ErrImageBuild, Message: "build failed"})
	upload := &fakeRPC{reply: amqp.Delivery{Body: replyBody}}
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.uploadClient = upload

	body, contentType := multipartArchiveBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/projects/alpha", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.handleProject()(w, req)

	if w.Code != model.ErrImageBuild.HTTPStatus() {
		t.Errorf("expected status %d for IMAGE_BUILD, got %d", model.ErrImageBuild.HTTPStatus(), w.Code)
	}
}

func TestPostProjectRejectsMissingArchiveField(t *testing.T) {
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.uploadClient = &fakeRPC{}

	buf := &bytes.Buffer{}
	w0 := multipart.NewWriter(buf)
	w0.Close()
	req := httptest.NewRequest(http.MethodPost, "/projects/alpha", buf)
	req.Header.Set("Content-Type", w0.FormDataContentType())
	w := httptest.NewRecorder()

	h.handleProject()(w, req)

	if w.Code != model.ErrBadInput.HTTPStatus() {
		t.Errorf("expected BAD_INPUT status, got %d", w.Code)
	}
}

func TestDeleteProjectPublishesOneWayRemoval(t *testing.T) {
	bus := &fakeBus{}
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.bus = bus

	req := httptest.NewRequest(http.MethodDelete, "/projects/alpha", nil)
	w := httptest.NewRecorder()

	h.handleProject()(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(bus.published) != 1 || bus.published[0] != queue.OpProjectRemoval+".request" {
		t.Errorf("expected one publish to %s, got %v", queue.OpProjectRemoval+".request", bus.published)
	}
}

func TestPostSubmissionForwardsWhitelistedArgsOnly(t *testing.T) {
	respBody, _ := json.Marshal(model.ContainerExecutionResponse{Status: model.StatusSuccess})
	var captured []byte
	exec := &capturingRPC{fakeRPC: fakeRPC{reply: amqp.Delivery{Body: respBody}}, captured: &captured}
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.execClient = exec

	body, contentType := multipartArchiveBody(t, map[string]string{
		"matchTest": "testFoo", "notWhitelisted": "drop-me",
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions/alpha", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.handleSubmission()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp model.ContainerExecutionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != model.StatusSuccess {
		t.Errorf("unexpected response: %+v", resp)
	}
	_, header, err := decodeEnvelopeForTest(captured)
	if err != nil {
		t.Fatal(err)
	}
	if header.ExecutionArgs["matchTest"] != "testFoo" {
		t.Errorf("expected whitelisted matchTest to be forwarded, got %+v", header.ExecutionArgs)
	}
	if _, ok := header.ExecutionArgs["notWhitelisted"]; ok {
		t.Errorf("expected non-whitelisted field to be dropped, got %+v", header.ExecutionArgs)
	}
}

func TestPostSubmissionPropagatesRunnerErrorKind(t *testing.T) {
	respBody, _ := json.Marshal(model.ContainerExecutionResponse{Kind: model.ErrProjectNotFound, Message: "no image built for project alpha"})
	exec := &fakeRPC{reply: amqp.Delivery{Body: respBody}}
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.execClient = exec

	body, contentType := multipartArchiveBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/submissions/alpha", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.handleSubmission()(w, req)

	if w.Code != model.ErrProjectNotFound.HTTPStatus() {
		t.Errorf("expected status %d for PROJECT_NOT_FOUND, got %d", model.ErrProjectNotFound.HTTPStatus(), w.Code)
	}
	history, err := requests.ListBySubmitter(context.Background(), "anonymous")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || !history[0].IsError {
		t.Errorf("expected message request to be marked as errored, got %+v", history)
	}
}

func TestPostSubmissionAppliesJSONProjectConfig(t *testing.T) {
	var captured []byte
	exec := &capturingRPC{fakeRPC: fakeRPC{reply: amqp.Delivery{Body: mustJSON(t, model.ContainerExecutionResponse{Status: model.StatusSuccess})}}, captured: &captured}
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.execClient = exec

	body, contentType := multipartArchiveBody(t, map[string]string{
		"projectConfig": `{"containerTimeout":30,"testExecutionArguments":{"matchTest":"testFoo"}}`,
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions/alpha", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.handleSubmission()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	_, header, err := decodeEnvelopeForTest(captured)
	if err != nil {
		t.Fatal(err)
	}
	if header.TimeoutOverride != 30 || header.ExecutionArgs["matchTest"] != "testFoo" {
		t.Errorf("expected projectConfig to populate envelope, got %+v", header)
	}
}

func TestPostSubmissionAppliesYAMLProjectConfig(t *testing.T) {
	var captured []byte
	exec := &capturingRPC{fakeRPC: fakeRPC{reply: amqp.Delivery{Body: mustJSON(t, model.ContainerExecutionResponse{Status: model.StatusSuccess})}}, captured: &captured}
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.execClient = exec

	body, contentType := multipartArchiveBody(t, map[string]string{
		"projectConfig": "containerTimeout: 45\ntestExecutionArguments:\n  matchTest: testBar\n",
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions/alpha", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.handleSubmission()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	_, header, err := decodeEnvelopeForTest(captured)
	if err != nil {
		t.Fatal(err)
	}
	if header.TimeoutOverride != 45 || header.ExecutionArgs["matchTest"] != "testBar" {
		t.Errorf("expected YAML projectConfig to populate envelope, got %+v", header)
	}
}

func TestPostSubmissionRejectsMalformedProjectConfig(t *testing.T) {
	requests := store.NewMemoryMessageRequestStore()
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)
	h.execClient = &fakeRPC{}

	body, contentType := multipartArchiveBody(t, map[string]string{
		"projectConfig": "{not valid json or yaml: [",
	})
	req := httptest.NewRequest(http.MethodPost, "/submissions/alpha", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.handleSubmission()(w, req)

	if w.Code != model.ErrBadInput.HTTPStatus() {
		t.Errorf("expected BAD_INPUT status for malformed projectConfig, got %d", w.Code)
	}
}

func TestRequestHistoryListsBySubmitter(t *testing.T) {
	requests := store.NewMemoryMessageRequestStore()
	_ = requests.Insert(context.Background(), &model.MessageRequest{ID: "r1", SubmitterID: "alice", Status: model.RequestCompleted})
	h := NewHandlers(nil, nil, nil, requests, time.Second, nil)

	req := httptest.NewRequest(http.MethodGet, "/requests/alice", nil)
	w := httptest.NewRecorder()

	h.handleRequestHistory()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var history []*model.MessageRequest
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != "r1" {
		t.Errorf("unexpected history: %+v", history)
	}
}
