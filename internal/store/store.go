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

// Package store holds the persistence interfaces owned by each service
// (§3 Ownership): the runner owns ProjectStore and ExecutionStore, the
// front service owns MessageRequestStore.
package store

import (
	"context"
	"errors"

	"github.com/codepr/forgerunner/internal/model"
)

// ErrNotFound is returned by a lookup that finds nothing, letting callers
// translate it to model.ErrNotFound / model.ErrProjectNotFound per caller
// context without the store package depending on the error taxonomy.
var ErrNotFound = errors.New("store: not found")

// ProjectStore persists Project rows (runner side, §3 Ownership).
type ProjectStore interface {
	Upsert(ctx context.Context, p *model.Project) error
	LookupByName(ctx context.Context, name string) (*model.Project, error)
	Delete(ctx context.Context, name string) error
}

// ExecutionStore persists ContainerExecution rows (runner side). Removing a
// project never deletes its executions — they stay as a dangling-reference
// audit trail (§4.1 Remove).
type ExecutionStore interface {
	Insert(ctx context.Context, e *model.ContainerExecution) error
	LookupByID(ctx context.Context, id string) (*model.ContainerExecution, error)
	ListByProject(ctx context.Context, projectName string) ([]*model.ContainerExecution, error)
}

// MessageRequestStore persists MessageRequest rows (front service side).
type MessageRequestStore interface {
	Insert(ctx context.Context, m *model.MessageRequest) error
	Update(ctx context.Context, m *model.MessageRequest) error
	LookupByID(ctx context.Context, id string) (*model.MessageRequest, error)
	ListBySubmitter(ctx context.Context, submitterID string) ([]*model.MessageRequest, error)
}
