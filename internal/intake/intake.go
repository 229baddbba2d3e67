// Package intake feeds issues published on NATS through the engine.
//
// Each message on the intake subject carries one issue as a JSON object. The
// pass result is published to the message's reply subject when the publisher
// asked for one, and to the configured result subject otherwise.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/config"
	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/orchestrator"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotStarted is returned by Close before Start.
var ErrNotStarted = errors.New("subscriber not started")

// Processor runs one pass over an issue.
type Processor interface {
	Process(ctx context.Context, is *issue.Issue) (*orchestrator.PassResult, error)
}

// Result is published once per intake message.
type Result struct {
	PassID string       `json:"pass_id,omitempty"`
	Reward float64      `json:"reward"`
	Issue  *issue.Issue `json:"issue,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Connect dials NATS with the reconnect policy used by the service.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("issueflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subscriber consumes issues from a NATS queue group.
type Subscriber struct {
	nc     *nats.Conn
	engine Processor
	cfg    config.NATSConfig
	logger *logging.Logger

	mu  sync.Mutex
	sub *nats.Subscription

	// Passes run under ctx, which keeps the values of the Start context but
	// not its cancellation. cancel fires only when Close gives up waiting.
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewSubscriber creates a subscriber. It does not subscribe until Start.
func NewSubscriber(nc *nats.Conn, engine Processor, cfg config.NATSConfig, logger *logging.Logger) (*Subscriber, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if engine == nil {
		return nil, errors.New("processor is required")
	}
	if cfg.Subject == "" {
		return nil, errors.New("intake subject is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Subscriber{
		nc:     nc,
		engine: engine,
		cfg:    cfg,
		logger: logger.Named("intake"),
	}, nil
}

// Start subscribes and returns once the server has acknowledged the
// subscription. Canceling ctx afterwards does not abort passes; Close does.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return errors.New("subscriber already started")
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.handle)
	if err != nil {
		s.cancel()
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	if err := s.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		s.cancel()
		return fmt.Errorf("flush subscription: %w", err)
	}
	s.sub = sub

	s.logger.Info(ctx, "intake subscribed",
		zap.String("subject", s.cfg.Subject),
		zap.String("queue", s.cfg.Queue),
	)
	return nil
}

// Close drains the subscription and waits until every message already
// delivered has been processed and answered. If ctx ends first, the passes
// still running are canceled and ctx's error is returned.
func (s *Subscriber) Close(ctx context.Context) error {
	s.mu.Lock()
	sub, cancel := s.sub, s.cancel
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return ErrNotStarted
	}

	closed := sub.StatusChanged(nats.SubscriptionClosed)
	if err := sub.Drain(); err != nil {
		cancel()
		return fmt.Errorf("drain %s: %w", s.cfg.Subject, err)
	}

	idle := make(chan struct{})
	go func() {
		<-closed
		s.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("drain %s: %w", s.cfg.Subject, ctx.Err())
	}
}

func (s *Subscriber) handle(msg *nats.Msg) {
	s.inflight.Add(1)
	defer s.inflight.Done()

	ctx := s.ctx
	res := s.process(ctx, msg.Data)

	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Error(ctx, "marshal result", zap.Error(err))
		return
	}

	subject := msg.Reply
	if subject == "" {
		subject = s.cfg.ResultSubject
	}
	if subject == "" {
		return
	}
	if err := s.nc.Publish(subject, data); err != nil {
		s.logger.Error(ctx, "publish result", zap.String("subject", subject), zap.Error(err))
	}
}

func (s *Subscriber) process(ctx context.Context, data []byte) Result {
	var is issue.Issue
	if err := json.Unmarshal(data, &is); err != nil {
		s.logger.Warn(ctx, "undecodable intake message", zap.Int("bytes", len(data)), zap.Error(err))
		return Result{Error: err.Error()}
	}

	res, err := s.engine.Process(ctx, &is)
	out := Result{Issue: &is, Reward: is.Reward}
	if res != nil {
		out.PassID = res.ID.String()
		out.Reward = res.Reward
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
