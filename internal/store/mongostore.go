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
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codepr/forgerunner/internal/model"
)

// MongoStore backs ProjectStore, ExecutionStore and MessageRequestStore with
// the three collections named in §6 Persisted state layout.
type MongoStore struct {
	client   *mongo.Client
	projects MongoProjectStore
	execs    MongoExecutionStore
	requests MongoMessageRequestStore
}

// Dial connects to the MongoDB instance at uri and returns the three
// collection-scoped stores sharing that connection.
func Dial(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	db := client.Database(dbName)
	return &MongoStore{
		client:   client,
		projects: MongoProjectStore{coll: db.Collection("projects")},
		execs:    MongoExecutionStore{coll: db.Collection("container_executions")},
		requests: MongoMessageRequestStore{coll: db.Collection("message_requests")},
	}, nil
}

func (s *MongoStore) Projects() *MongoProjectStore        { return &s.projects }
func (s *MongoStore) Executions() *MongoExecutionStore     { return &s.execs }
func (s *MongoStore) MessageRequests() *MongoMessageRequestStore { return &s.requests }

// Close disconnects the shared Mongo client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MongoProjectStore persists Project rows in the "projects" collection.
type MongoProjectStore struct {
	coll *mongo.Collection
}

func (s *MongoProjectStore) Upsert(ctx context.Context, p *model.Project) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"name": p.Name}, p, opts)
	if err != nil {
		return fmt.Errorf("mongostore: upsert project %s: %w", p.Name, err)
	}
	return nil
}

func (s *MongoProjectStore) LookupByName(ctx context.Context, name string) (*model.Project, error) {
	var p model.Project
	err := s.coll.FindOne(ctx, bson.M{"name": name}).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: lookup project %s: %w", name, err)
	}
	return &p, nil
}

func (s *MongoProjectStore) Delete(ctx context.Context, name string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return fmt.Errorf("mongostore: delete project %s: %w", name, err)
	}
	return nil
}

// MongoExecutionStore persists ContainerExecution rows in the
// "container_executions" collection. Rows outlive their owning project.
type MongoExecutionStore struct {
	coll *mongo.Collection
}

func (s *MongoExecutionStore) Insert(ctx context.Context, e *model.ContainerExecution) error {
	_, err := s.coll.InsertOne(ctx, e)
	if err != nil {
		return fmt.Errorf("mongostore: insert execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *MongoExecutionStore) LookupByID(ctx context.Context, id string) (*model.ContainerExecution, error) {
	var e model.ContainerExecution
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: lookup execution %s: %w", id, err)
	}
	return &e, nil
}

func (s *MongoExecutionStore) ListByProject(ctx context.Context, projectName string) ([]*model.ContainerExecution, error) {
	cur, err := s.coll.Find(ctx, bson.M{"projectName": projectName})
	if err != nil {
		return nil, fmt.Errorf("mongostore: list executions for %s: %w", projectName, err)
	}
	defer cur.Close(ctx)

	var out []*model.ContainerExecution
	for cur.Next(ctx) {
		var e model.ContainerExecution
		if err := cur.Decode(&e); err != nil {
			return nil, fmt.Errorf("mongostore: decode execution: %w", err)
		}
		out = append(out, &e)
	}
	return out, cur.Err()
}

// MongoMessageRequestStore persists MessageRequest rows in the
// "message_requests" collection (front service side).
type MongoMessageRequestStore struct {
	coll *mongo.Collection
}

func (s *MongoMessageRequestStore) Insert(ctx context.Context, m *model.MessageRequest) error {
	_, err := s.coll.InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("mongostore: insert message request %s: %w", m.ID, err)
	}
	return nil
}

func (s *MongoMessageRequestStore) Update(ctx context.Context, m *model.MessageRequest) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("mongostore: update message request %s: %w", m.ID, err)
	}
	return nil
}

func (s *MongoMessageRequestStore) LookupByID(ctx context.Context, id string) (*model.MessageRequest, error) {
	var m model.MessageRequest
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: lookup message request %s: %w", id, err)
	}
	return &m, nil
}

func (s *MongoMessageRequestStore) ListBySubmitter(ctx context.Context, submitterID string) ([]*model.MessageRequest, error) {
	cur, err := s.coll.Find(ctx, bson.M{"submitterId": submitterID})
	if err != nil {
		return nil, fmt.Errorf("mongostore: list message requests for %s: %w", submitterID, err)
	}
	defer cur.Close(ctx)

	var out []*model.MessageRequest
	for cur.Next(ctx) {
		var m model.MessageRequest
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("mongostore: decode message request: %w", err)
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}
