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
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/codepr/forgerunner/internal/model"
)

// RPCClient publishes on `<op>.request` and awaits the matching reply on
// `<op>.reply.<instance>`, demultiplexing replies into futures keyed by
// correlation id (§9 "Request/reply over the bus should be implemented as
// a typed client"). One RPCClient instance owns one reply queue and one
// background consumer goroutine.
type RPCClient struct {
	bus         *Bus
	replyQueue  string
	log         *log.Logger

	mu      sync.Mutex
	pending map[string]chan amqp.Delivery
}

// NewRPCClient declares this instance's private reply queue (named
// `<op>.reply.<instance>`, §4.5 Protocol) and starts the reply-consuming
// goroutine.
func NewRPCClient(bus *Bus, op, instanceID string, logger *log.Logger) (*RPCClient, error) {
	if logger == nil {
		logger = log.Default()
	}
	replyQueueName := fmt.Sprintf("%s.reply.%s", op, instanceID)
	if _, err := bus.DeclareQueue(replyQueueName); err != nil {
		return nil, fmt.Errorf("queue: declare reply queue %s: %w", replyQueueName, err)
	}
	deliveries, err := bus.Consume(replyQueueName, instanceID)
	if err != nil {
		return nil, fmt.Errorf("queue: consume reply queue %s: %w", replyQueueName, err)
	}

	c := &RPCClient{
		bus:        bus,
		replyQueue: replyQueueName,
		log:        logger,
		pending:    make(map[string]chan amqp.Delivery),
	}
	go c.demux(deliveries)
	return c, nil
}

func (c *RPCClient) demux(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		c.mu.Lock()
		ch, ok := c.pending[d.CorrelationId]
		if ok {
			delete(c.pending, d.CorrelationId)
		}
		c.mu.Unlock()

		if !ok {
			// Orphan reply: no waiter left (timed out or never registered).
			c.log.Printf("queue: dropping orphan reply correlationId=%s", d.CorrelationId)
			_ = d.Ack(false)
			continue
		}
		_ = d.Ack(false)
		ch <- d
	}
}

// Call publishes requestQueue with body and blocks until the matching
// reply arrives, ctx is cancelled, or the publisher-side deadline carried
// by ctx expires — whichever comes first. A context cancellation before
// reply completes the caller with TIMEOUT_WAITING_FOR_RUNNER (§5 Timeouts)
// without canceling the runner's in-flight work.
func (c *RPCClient) Call(ctx context.Context, requestQueue string, body []byte) (amqp.Delivery, error) {
	correlationID := uuid.New().String()
	replyCh := make(chan amqp.Delivery, 1)

	c.mu.Lock()
	c.pending[correlationID] = replyCh
	c.mu.Unlock()

	if err := c.bus.Publish(requestQueue, nil, correlationID, c.replyQueue, body); err != nil {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
		return amqp.Delivery{}, fmt.Errorf("queue: publish to %s: %w", requestQueue, err)
	}

	select {
	case d := <-replyCh:
		return d, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
		return amqp.Delivery{}, model.NewTaxonomyError(
			model.ErrTimeoutWaitingBus,
			"timed out waiting for runner reply",
			ctx.Err(),
		)
	}
}
