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

package store

import (
	"context"
	"sync"

	"github.com/codepr/forgerunner/internal/model"
)

// MemoryProjectStore is a mutex-guarded map, useful for tests and for
// running the runner without a MongoDB instance.
type MemoryProjectStore struct {
	mu       sync.Mutex
	projects map[string]*model.Project
}

func NewMemoryProjectStore() *MemoryProjectStore {
	return &MemoryProjectStore{projects: make(map[string]*model.Project)}
}

func (s *MemoryProjectStore) Upsert(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.Name] = &cp
	return nil
}

func (s *MemoryProjectStore) LookupByName(_ context.Context, name string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProjectStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, name)
	return nil
}

// MemoryExecutionStore is an in-memory ExecutionStore. Executions are
// retained even after their owning project is deleted (§4.1 Remove).
type MemoryExecutionStore struct {
	mu         sync.Mutex
	byID       map[string]*model.ContainerExecution
	byProject  map[string][]string
}

func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		byID:      make(map[string]*model.ContainerExecution),
		byProject: make(map[string][]string),
	}
}

func (s *MemoryExecutionStore) Insert(_ context.Context, e *model.ContainerExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.byID[e.ID] = &cp
	s.byProject[e.ProjectName] = append(s.byProject[e.ProjectName], e.ID)
	return nil
}

func (s *MemoryExecutionStore) LookupByID(_ context.Context, id string) (*model.ContainerExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryExecutionStore) ListByProject(_ context.Context, projectName string) ([]*model.ContainerExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byProject[projectName]
	out := make([]*model.ContainerExecution, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.byID[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryMessageRequestStore is an in-memory MessageRequestStore.
type MemoryMessageRequestStore struct {
	mu           sync.Mutex
	byID         map[string]*model.MessageRequest
	bySubmitter  map[string][]string
}

func NewMemoryMessageRequestStore() *MemoryMessageRequestStore {
	return &MemoryMessageRequestStore{
		byID:        make(map[string]*model.MessageRequest),
		bySubmitter: make(map[string][]string),
	}
}

func (s *MemoryMessageRequestStore) Insert(_ context.Context, m *model.MessageRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.byID[m.ID] = &cp
	s.bySubmitter[m.SubmitterID] = append(s.bySubmitter[m.SubmitterID], m.ID)
	return nil
}

func (s *MemoryMessageRequestStore) Update(_ context.Context, m *model.MessageRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; !ok {
		return ErrNotFound
	}
	cp := *m
	s.byID[m.ID] = &cp
	return nil
}

func (s *MemoryMessageRequestStore) LookupByID(_ context.Context, id string) (*model.MessageRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMessageRequestStore) ListBySubmitter(_ context.Context, submitterID string) ([]*model.MessageRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.bySubmitter[submitterID]
	out := make([]*model.MessageRequest, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}
