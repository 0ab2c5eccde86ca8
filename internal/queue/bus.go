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

// Package queue is the Bus Adapter (§4.5): bridges front-service HTTP
// handlers to runner workers over a durable AMQP queue, with per-request
// correlation.
package queue

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Bus owns one long-lived AMQP connection and channel, shared by every
// queue this process produces to or consumes from. Unlike a fresh
// dial-per-call, the connection survives for the life of the process
// (§9 "Implicit globals... become explicit handles" — here the handle is
// the Bus value itself, passed in rather than reached for as a package
// global).
type Bus struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker at url and opens the single channel this
// process will publish and consume on.
func Dial(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	return &Bus{conn: conn, ch: ch}, nil
}

// Close tears down the channel and connection.
func (b *Bus) Close() error {
	if err := b.ch.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// DeclareQueue declares a durable queue by name, idempotently.
func (b *Bus) DeclareQueue(name string) (amqp.Queue, error) {
	return b.ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
}

// SetPrefetch caps the number of unacked deliveries this channel holds at
// once, matching the submission concurrency cap N (§4.5 Delivery). It must
// never stand in for the Submission Controller's fixed worker pool, which is
// what bounds container launches (§9 "do not attempt to enforce it via bus
// prefetch alone").
func (b *Bus) SetPrefetch(n int) error {
	return b.ch.Qos(n, 0, false)
}

// Publish sends body to queueName with the given headers and, if set, a
// reply-to queue and correlation id.
func (b *Bus) Publish(queueName string, headers amqp.Table, correlationID, replyTo string, body []byte) error {
	return b.ch.Publish(
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:   "application/octet-stream",
			Headers:       headers,
			CorrelationId: correlationID,
			ReplyTo:       replyTo,
			Body:          body,
		},
	)
}

// Consume starts a manual-ack consumer on queueName. The caller acks or
// nacks each amqp.Delivery after completing its work (§4.5 Delivery:
// "Consumer acks after completing work").
func (b *Bus) Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	return b.ch.Consume(
		queueName,
		consumerTag,
		false, // auto-ack: false, caller acks explicitly
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}
