// Package bridge lets goroutines outside the bot loop run short operations
// inside it and wait for the result with a deadline.
//
// The loop publishes the bridge once it is running and then drains
// Requests() between inbound events. Callers block in Call until the loop
// has run their operation, the deadline passes, or the loop never comes up.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTimeout   = 2 * time.Second
	DefaultReadyWait = 10 * time.Second
)

var (
	ErrNotReady = errors.New("bridge: bot loop not running")
	ErrTimeout  = errors.New("bridge: operation timed out")
)

// OpError carries a failure raised by the operation itself, including a
// recovered panic.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("bridge: %s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

// Op runs on the loop goroutine.
type Op func(ctx context.Context) (bool, error)

type result struct {
	ok  bool
	err error
}

// Request is one scheduled operation. The loop calls Run exactly once.
type Request struct {
	ctx  context.Context
	name string
	op   Op
	done chan result
}

func (r *Request) Name() string { return r.name }

// Run executes the operation and hands the result back to the waiting
// caller. It never blocks; a caller that already gave up simply never reads.
func (r *Request) Run() {
	var res result
	func() {
		defer func() {
			if p := recover(); p != nil {
				res = result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		ok, err := r.op(r.ctx)
		res = result{ok: ok, err: err}
	}()
	r.done <- res
}

type Options struct {
	Timeout   time.Duration
	ReadyWait time.Duration
	Logger    *slog.Logger
}

type Bridge struct {
	ready     chan struct{}
	once      sync.Once
	requests  chan *Request
	timeout   time.Duration
	readyWait time.Duration
	logger    *slog.Logger
}

func New(opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ReadyWait <= 0 {
		opts.ReadyWait = DefaultReadyWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		ready:     make(chan struct{}),
		requests:  make(chan *Request),
		timeout:   opts.Timeout,
		readyWait: opts.ReadyWait,
		logger:    opts.Logger,
	}
}

// Publish marks the loop as running. Later calls are no-ops.
func (b *Bridge) Publish() {
	b.once.Do(func() {
		close(b.ready)
		b.logger.Info("invalidation bridge ready")
	})
}

func (b *Bridge) Ready() bool {
	select {
	case <-b.ready:
		return true
	default:
		return false
	}
}

// Requests is drained by the loop goroutine only.
func (b *Bridge) Requests() <-chan *Request {
	return b.requests
}

// Call schedules op on the loop and waits for it. timeout <= 0 uses the
// bridge default. The result is ErrNotReady if the loop was not published
// within the ready ceiling, ErrTimeout if the op was not finished in time,
// or an *OpError if the op failed.
func (b *Bridge) Call(ctx context.Context, name string, op Op, timeout time.Duration) (bool, error) {
	ctx, span := otel.Tracer("github.com/NikoleTW/VPNBot/internal/bridge").Start(ctx, "bridge.call")
	defer span.End()
	span.SetAttributes(attribute.String("bridge.op", name))

	ok, err := b.call(ctx, name, op, timeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return ok, err
}

func (b *Bridge) call(ctx context.Context, name string, op Op, timeout time.Duration) (bool, error) {
	if !b.Ready() {
		wait := time.NewTimer(b.readyWait)
		defer wait.Stop()
		select {
		case <-b.ready:
		case <-wait.C:
			return false, ErrNotReady
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if timeout <= 0 {
		timeout = b.timeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	req := &Request{
		ctx:  context.WithoutCancel(ctx),
		name: name,
		op:   op,
		done: make(chan result, 1),
	}

	select {
	case b.requests <- req:
	case <-deadline.C:
		return false, ErrTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case res := <-req.done:
		if res.err != nil {
			return false, &OpError{Op: name, Err: res.err}
		}
		return res.ok, nil
	case <-deadline.C:
		return false, ErrTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
