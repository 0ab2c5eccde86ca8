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

package model

import "time"

// ErrorKind is the closed error taxonomy of §7 ERROR HANDLING DESIGN.
type ErrorKind string

const (
	ErrBadInput           ErrorKind = "BAD_INPUT"
	ErrNotFound           ErrorKind = "NOT_FOUND"
	ErrImageBuild         ErrorKind = "IMAGE_BUILD"
	ErrBaselineDiscovery  ErrorKind = "BASELINE_DISCOVERY"
	ErrProjectNotFound    ErrorKind = "PROJECT_NOT_FOUND"
	ErrApplicationError   ErrorKind = "APPLICATION_ERROR"
	ErrTimeout            ErrorKind = "TIMEOUT"
	ErrDockerUnavailable  ErrorKind = "DOCKER_UNAVAILABLE"
	ErrInternal           ErrorKind = "INTERNAL"
	ErrTimeoutWaitingBus  ErrorKind = "TIMEOUT_WAITING_FOR_RUNNER"
)

// httpStatus maps an ErrorKind to its HTTP status code (§7 "The HTTP status
// code maps from kind").
var httpStatus = map[ErrorKind]int{
	ErrBadInput:          400,
	ErrNotFound:          404,
	ErrImageBuild:        422,
	ErrBaselineDiscovery: 422,
	ErrProjectNotFound:   404,
	ErrApplicationError:  200,
	ErrTimeout:           200,
	ErrDockerUnavailable: 503,
	ErrInternal:          500,
	ErrTimeoutWaitingBus: 200,
}

// HTTPStatus returns the status code this ErrorKind maps to, defaulting to
// 500 for an unrecognized kind.
func (k ErrorKind) HTTPStatus() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return 500
}

// TaxonomyError is the `{ kind, message }` payload every failing response
// carries (§7 User-visible behavior). It implements error so internal code
// can propagate it with the standard `error` plumbing while route edges
// still get a classified kind.
type TaxonomyError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func NewTaxonomyError(kind ErrorKind, message string, cause error) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Message: message, cause: cause}
}

func (e *TaxonomyError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *TaxonomyError) Unwrap() error { return e.cause }

// RequestStatus is the MessageRequest lifecycle state (§3 MessageRequest).
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestCompleted RequestStatus = "COMPLETED"
)

// MessageRequest is the front-service-owned record of one bus round-trip
// (§3 MessageRequest). It is never touched by the runner.
type MessageRequest struct {
	ID                      string        `bson:"_id,omitempty" json:"id"`
	SubmitterID             string        `bson:"submitterId" json:"submitterId"`
	Status                  RequestStatus `bson:"status" json:"status"`
	IsError                 bool          `bson:"isError" json:"isError"`
	StartingPositionInQueue int           `bson:"startingPositionInQueue" json:"startingPositionInQueue"`
	CorrelationID           string        `bson:"correlationId" json:"correlationId"`
	DocumentRef             string        `bson:"documentRef,omitempty" json:"documentRef,omitempty"`
	Response                interface{}   `bson:"response,omitempty" json:"response,omitempty"`
	ErrorPayload            *TaxonomyError `bson:"errorPayload,omitempty" json:"errorPayload,omitempty"`
	CreatedAt               time.Time     `bson:"createdAt" json:"createdAt"`
	CompletedAt             *time.Time    `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// Complete transitions a MessageRequest to COMPLETED on reply receipt or a
// fatal local error (§3 MessageRequest Lifecycle).
func (m *MessageRequest) Complete(response interface{}, errPayload *TaxonomyError) {
	m.Status = RequestCompleted
	m.IsError = errPayload != nil
	m.Response = response
	m.ErrorPayload = errPayload
	now := time.Now()
	m.CompletedAt = &now
}

// ContainerExecutionResponse is the runner's reply to a submission-execute
// request (§4.3 step 9, §6 submission-execute.request Reply). Kind/Message
// are populated instead of Status/Output when the submission never reached
// a container run at all (§8 Scenario 5, e.g. PROJECT_NOT_FOUND) — the
// caller always gets one of these response shapes, never silence.
type ContainerExecutionResponse struct {
	Status       StatusCode    `json:"status,omitempty"`
	Output       TestOutput    `json:"output,omitempty"`
	ElapsedMs    int64         `json:"elapsedMs,omitempty"`
	ExecutionArg ExecutionArgs `json:"executionArgs,omitempty"`
	Kind         ErrorKind     `json:"kind,omitempty"`
	Message      string        `json:"message,omitempty"`
}
