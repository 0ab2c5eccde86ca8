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

// Package runnerapp wires the runner-side bus consumer to the Image Manager
// and the Submission Controller (§4.5 Protocol): one goroutine per logical
// queue, each decoding its envelope, doing the work, and replying (or, for
// project-removal, not replying at all).
package runnerapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"

	"github.com/codepr/forgerunner/internal/imagemgr"
	"github.com/codepr/forgerunner/internal/model"
	"github.com/codepr/forgerunner/internal/queue"
	"github.com/codepr/forgerunner/internal/submission"
)

// builder is the slice of imagemgr.Manager the consumer depends on.
type builder interface {
	Build(ctx context.Context, projectName string, archive []byte) (imagemgr.BuildResult, error)
	Remove(ctx context.Context, projectName string) error
}

// submitter is the slice of submission.Controller the consumer depends on.
type submitter interface {
	Submit(ctx context.Context, req submission.Request) (*model.ContainerExecution, error)
}

// busConn is the slice of queue.Bus the consumer depends on.
type busConn interface {
	DeclareQueue(name string) (amqp.Queue, error)
	Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error)
	Publish(queueName string, headers amqp.Table, correlationID, replyTo string, body []byte) error
}

// Consumer drains the three request queues and replies (where the protocol
// calls for a reply) by publishing to the delivery's ReplyTo/CorrelationId.
type Consumer struct {
	bus         busConn
	images      builder
	submissions submitter
	log         *log.Logger
}

// NewConsumer wires a runner-side Consumer.
func NewConsumer(bus *queue.Bus, images builder, submissions submitter, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{bus: bus, images: images, submissions: submissions, log: logger}
}

// Start declares the three request queues and launches one consuming
// goroutine per queue. It returns once all three are declared and consuming
// has started; ctx cancellation stops each goroutine's delivery loop.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.startQueue(ctx, queue.OpProjectUpload+".request", "runner-project-upload", c.handleProjectUpload); err != nil {
		return err
	}
	if err := c.startQueue(ctx, queue.OpSubmissionExec+".request", "runner-submission-execute", c.handleSubmissionExecute); err != nil {
		return err
	}
	if err := c.startQueue(ctx, queue.OpProjectRemoval+".request", "runner-project-removal", c.handleProjectRemoval); err != nil {
		return err
	}
	return nil
}

func (c *Consumer) startQueue(ctx context.Context, queueName, consumerTag string, handle func(context.Context, amqp.Delivery)) error {
	if _, err := c.bus.DeclareQueue(queueName); err != nil {
		return fmt.Errorf("runnerapp: declare queue %s: %w", queueName, err)
	}
	deliveries, err := c.bus.Consume(queueName, consumerTag)
	if err != nil {
		return fmt.Errorf("runnerapp: consume queue %s: %w", queueName, err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				handle(ctx, d)
			}
		}
	}()
	return nil
}

func (c *Consumer) reply(d amqp.Delivery, payload interface{}) {
	if d.ReplyTo == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Printf("runnerapp: marshal reply for %s: %v", d.ReplyTo, err)
		return
	}
	if err := c.bus.Publish(d.ReplyTo, nil, d.CorrelationId, "", body); err != nil {
		c.log.Printf("runnerapp: publish reply to %s: %v", d.ReplyTo, err)
	}
}

// handleProjectUpload implements the build side of §4.1: decode the
// template archive, build (or rebuild) the project's image, reply with the
// baseline roster or a classified failure.
func (c *Consumer) handleProjectUpload(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	var header queue.ProjectUploadHeader
	archive, err := queue.DecodeArchiveEnvelope(d.Body, &header)
	if err != nil {
		c.log.Printf("runnerapp: decode project-upload envelope: %v", err)
		c.reply(d, queue.ProjectUploadReply{Status: "FAILED", Kind: model.ErrBadInput, Message: err.Error()})
		return
	}

	result, err := c.images.Build(ctx, header.ProjectName, archive)
	if err != nil {
		c.log.Printf("runnerapp: build project %s: %v", header.ProjectName, err)
		taxErr := taxonomyErrorOf(err)
		c.reply(d, queue.ProjectUploadReply{Status: "FAILED", Kind: taxErr.Kind, Message: taxErr.Message})
		return
	}

	c.reply(d, queue.ProjectUploadReply{
		Status:        "SUCCESS",
		BaselineTests: result.BaselineTests,
		ImageID:       result.ImageTag,
	})
}

// handleSubmissionExecute implements the submission side of §4.3: decode
// the submission archive, run it through the Submission Controller, reply
// with the resulting ContainerExecutionResponse.
func (c *Consumer) handleSubmissionExecute(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	var header queue.SubmissionExecuteHeader
	archive, err := queue.DecodeArchiveEnvelope(d.Body, &header)
	if err != nil {
		c.log.Printf("runnerapp: decode submission-execute envelope: %v", err)
		taxErr := taxonomyErrorOf(err)
		c.reply(d, model.ContainerExecutionResponse{Kind: taxErr.Kind, Message: taxErr.Message})
		return
	}

	exec, err := c.submissions.Submit(ctx, submission.Request{
		ProjectName:     header.ProjectName,
		Archive:         archive,
		ExecutionArgs:   header.ExecutionArgs,
		TimeoutOverride: header.TimeoutOverride,
	})
	if err != nil {
		c.log.Printf("runnerapp: submission for %s failed: %v", header.ProjectName, err)
		taxErr := taxonomyErrorOf(err)
		c.reply(d, model.ContainerExecutionResponse{Kind: taxErr.Kind, Message: taxErr.Message})
		return
	}

	c.reply(d, model.ContainerExecutionResponse{
		Status:       exec.Status,
		Output:       exec.Output,
		ElapsedMs:    exec.ElapsedMs,
		ExecutionArg: exec.ExecutionArg,
	})
}

// handleProjectRemoval implements the one-way removal leg of §4.5 Envelopes:
// no reply is ever sent, a fire-and-forget dispatch in the same spirit as
// the original commit-queue producer.
func (c *Consumer) handleProjectRemoval(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	var msg queue.ProjectRemovalMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Printf("runnerapp: decode project-removal message: %v", err)
		return
	}
	if err := c.images.Remove(ctx, msg.ProjectName); err != nil {
		c.log.Printf("runnerapp: remove project %s: %v", msg.ProjectName, err)
	}
}

func taxonomyErrorOf(err error) *model.TaxonomyError {
	if taxErr, ok := err.(*model.TaxonomyError); ok {
		return taxErr
	}
	return model.NewTaxonomyError(model.ErrInternal, err.Error(), err)
}
