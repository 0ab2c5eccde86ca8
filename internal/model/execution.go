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

// Purpose classifies why a container was launched (§3 ContainerExecution).
type Purpose string

const (
	PurposeProjectCreation Purpose = "PROJECT_CREATION"
	PurposeSubmission      Purpose = "SUBMISSION"
)

// StatusCode is the translated exit status of a container run (§4.2
// Exit-code translation).
type StatusCode string

const (
	StatusSuccess          StatusCode = "SUCCESS"
	StatusPurposelyStopped StatusCode = "PURPOSELY_STOPPED"
	StatusApplicationError StatusCode = "APPLICATION_ERROR"
	StatusTimeout          StatusCode = "TIMEOUT"
	StatusInternal         StatusCode = "INTERNAL"
)

// ContainerExecution is the append-only history record of one container
// invocation (§3 ContainerExecution). Once sealed it is never mutated.
type ContainerExecution struct {
	ID           string        `bson:"_id,omitempty" json:"id"`
	ProjectName  string        `bson:"projectName" json:"projectName"`
	Purpose      Purpose       `bson:"purpose" json:"purpose"`
	Status       StatusCode    `bson:"status" json:"status"`
	ElapsedMs    int64         `bson:"elapsedMs" json:"elapsedMs"`
	StartedAt    time.Time     `bson:"startedAt" json:"startedAt"`
	EndedAt      time.Time     `bson:"endedAt" json:"endedAt"`
	Output       TestOutput    `bson:"output" json:"output"`
	ExecutionArg ExecutionArgs `bson:"executionArgs,omitempty" json:"executionArgs,omitempty"`
}

// Seal finalizes a ContainerExecution on container exit. Called exactly
// once, at the end of the extract→run→parse state machine (§9 Design notes:
// "Callback/promise chains... become a linear state machine").
func (c *ContainerExecution) Seal(status StatusCode, started, ended time.Time, out TestOutput) {
	c.Status = status
	c.StartedAt = started
	c.EndedAt = ended
	c.ElapsedMs = ended.Sub(started).Milliseconds()
	c.Output = out
}
