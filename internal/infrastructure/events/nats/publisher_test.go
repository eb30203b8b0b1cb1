package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

type connFake struct {
	subject string
	data    [][]byte
	errs    []error
}

func (c *connFake) Publish(subject string, data []byte) error {
	c.subject = subject
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return err
		}
	}
	c.data = append(c.data, data)
	return nil
}

func (c *connFake) Subscribe(string, nats.MsgHandler) (*nats.Subscription, error) {
	return nil, errors.New("not supported")
}
func (c *connFake) Flush() error                     { return nil }
func (c *connFake) FlushTimeout(time.Duration) error { return nil }
func (c *connFake) Close()                           {}

func TestPublishQueryAnsweredEncodesJSON(t *testing.T) {
	conn := &connFake{}
	p := newPublisher(conn, "", nil, nil)

	err := p.PublishQueryAnswered(context.Background(), domain.QueryAnsweredEvent{
		ID:           "evt-1",
		Type:         domain.EventQueryAnswered,
		SubQuestions: 2,
		Usage: domain.TokenUsage{
			EmbeddingTokens: 12,
			LLM:             domain.LLMTokenUsage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40},
		},
	})
	if err != nil {
		t.Fatalf("PublishQueryAnswered() error = %v", err)
	}
	if conn.subject != DefaultSubject || len(conn.data) != 1 {
		t.Fatalf("unexpected publish subject=%q count=%d", conn.subject, len(conn.data))
	}

	var env Envelope
	if err := json.Unmarshal(conn.data[0], &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.ID != "evt-1" || env.Type != domain.EventQueryAnswered {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestPublishRetriesDisconnectedThroughExecutor(t *testing.T) {
	conn := &connFake{errs: []error{nats.ErrDisconnected, nil}}
	executor := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	p := newPublisher(conn, "docqa.test", executor, nil)

	if err := p.PublishIndexRebuilt(context.Background(), domain.IndexRebuiltEvent{ID: "evt-2", Type: domain.EventIndexRebuilt}); err != nil {
		t.Fatalf("PublishIndexRebuilt() error = %v", err)
	}
	if len(conn.data) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(conn.data))
	}
}

func TestPublishWrapsRetryableAsTemporary(t *testing.T) {
	conn := &connFake{errs: []error{nats.ErrConnectionClosed}}
	p := newPublisher(conn, "docqa.test", nil, nil)

	err := p.PublishIndexRebuilt(context.Background(), domain.IndexRebuiltEvent{ID: "evt-3"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "canceled", err: context.Canceled, retryable: false, record: false},
		{name: "no servers", err: fmt.Errorf("publish: %w", nats.ErrNoServers), retryable: true, record: true},
		{name: "bad subject", err: nats.ErrBadSubject, retryable: false, record: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyNATSError(tt.err)
			if got.Retryable != tt.retryable || got.RecordFailure != tt.record {
				t.Fatalf("classifyNATSError(%v) = %+v", tt.err, got)
			}
		})
	}
}
