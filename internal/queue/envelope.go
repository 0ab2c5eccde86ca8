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

package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/codepr/forgerunner/internal/model"
)

// Logical operation names, each backing a `<op>.request` / `<op>.reply`
// queue pair (§4.5 Protocol), except project-removal which is one-way.
const (
	OpProjectUpload   = "project-upload"
	OpSubmissionExec  = "submission-execute"
	OpProjectRemoval  = "project-removal"
)

// ProjectUploadHeader is the JSON header of a project-upload.request
// message; the archive bytes follow as the envelope's binary section
// (§4.5 Envelopes, §6 Bus).
type ProjectUploadHeader struct {
	ProjectName string `json:"projectName"`
}

// ProjectUploadReply is the project-upload.request reply payload.
type ProjectUploadReply struct {
	Status        string   `json:"status"`
	BaselineTests []string `json:"baselineTests,omitempty"`
	ImageID       string   `json:"imageId,omitempty"`
	Kind          model.ErrorKind `json:"kind,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// SubmissionExecuteHeader is the JSON header of a submission-execute.request
// message; the archive bytes follow as the envelope's binary section.
type SubmissionExecuteHeader struct {
	ProjectName     string              `json:"projectName"`
	CorrelationID   string              `json:"correlationId"`
	ExecutionArgs   model.ExecutionArgs `json:"executionArgs,omitempty"`
	TimeoutOverride int                 `json:"timeoutOverride,omitempty"`
}

// ProjectRemovalMessage is the single-JSON-blob body of a one-way
// project-removal.request message (§4.5 Envelopes).
type ProjectRemovalMessage struct {
	ProjectName string `json:"projectName"`
}

// headerLenBytes bytes are used to frame the JSON header ahead of the binary
// archive payload in an archive-carrying envelope.
const headerLenBytes = 4

// EncodeArchiveEnvelope frames header as a length-prefixed JSON blob
// followed by the raw archive bytes, matching "a small JSON header plus
// the raw archive bytes as the message body" (§4.5 Envelopes).
func EncodeArchiveEnvelope(header interface{}, archive []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal envelope header: %w", err)
	}
	buf := make([]byte, headerLenBytes+len(headerJSON)+len(archive))
	binary.BigEndian.PutUint32(buf, uint32(len(headerJSON)))
	copy(buf[headerLenBytes:], headerJSON)
	copy(buf[headerLenBytes+len(headerJSON):], archive)
	return buf, nil
}

// DecodeArchiveEnvelope splits a framed envelope back into its JSON header
// (unmarshaled into header, a pointer) and the raw archive bytes.
func DecodeArchiveEnvelope(body []byte, header interface{}) ([]byte, error) {
	if len(body) < headerLenBytes {
		return nil, fmt.Errorf("queue: envelope shorter than header length prefix")
	}
	n := binary.BigEndian.Uint32(body)
	if uint32(len(body)) < uint32(headerLenBytes)+n {
		return nil, fmt.Errorf("queue: envelope truncated before header end")
	}
	headerJSON := body[headerLenBytes : headerLenBytes+n]
	archive := body[headerLenBytes+n:]
	if err := json.Unmarshal(headerJSON, header); err != nil {
		return nil, fmt.Errorf("queue: unmarshal envelope header: %w", err)
	}
	return archive, nil
}
