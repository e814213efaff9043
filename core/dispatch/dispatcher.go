// Package dispatch places outbound call legs through a rate-limited,
// retrying worker pool. Every job owns a durable call record from the
// moment it is enqueued; the record's status tracks the leg's lifecycle
// whether or not the job ever dispatches.
package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/telvox/callflow-core/core/callrecord"
	"github.com/telvox/callflow-core/core/telephony"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// JobSpec describes one outbound call to place.
type JobSpec struct {
	AgentID    string
	WorkflowID string
	TenantID   string
	ToNumber   string
	FromNumber string
	Metadata   map[string]any
}

type Job struct {
	ID       string
	CallID   string
	Spec     JobSpec
	Attempts int

	cancelled atomic.Bool
	stopTimer func() bool
}

type Options struct {
	// Concurrency bounds how many legs are being placed at once.
	Concurrency int
	// RatePerSecond bounds dispatch throughput against the provider's
	// outbound rate limit.
	RatePerSecond int
	// MaxAttempts is the total attempt budget per job, first try
	// included.
	MaxAttempts int
	// InitialBackoff doubles on every failed attempt.
	InitialBackoff time.Duration
}

type Option func(*Options)

func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

func WithRatePerSecond(n int) Option {
	return func(o *Options) { o.RatePerSecond = n }
}

func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

func WithInitialBackoff(d time.Duration) Option {
	return func(o *Options) { o.InitialBackoff = d }
}

type Dispatcher struct {
	records callrecord.Store
	dialer  telephony.Dialer
	// publicBaseURL is the externally reachable root used to build the
	// provider's connect and status callback URLs.
	publicBaseURL string

	opts    Options
	queue   chan *Job
	limiter *rateLimiter

	mu      sync.Mutex
	pending map[string]*Job

	inFlight atomic.Int64
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	// schedule defers fn by delay and returns a stop function. Tests
	// swap it to observe stagger offsets without sleeping.
	schedule func(delay time.Duration, fn func()) func() bool
}

func NewDispatcher(records callrecord.Store, dialer telephony.Dialer, publicBaseURL string, opts ...Option) *Dispatcher {
	options := Options{
		Concurrency:    5,
		RatePerSecond:  10,
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Dispatcher{
		records:       records,
		dialer:        dialer,
		publicBaseURL: publicBaseURL,
		opts:          options,
		queue:         make(chan *Job, 256),
		limiter:       newRateLimiter(options.RatePerSecond),
		pending:       make(map[string]*Job),
		schedule: func(delay time.Duration, fn func()) func() bool {
			if delay <= 0 {
				go fn()
				return func() bool { return false }
			}
			return time.AfterFunc(delay, fn).Stop
		},
	}
}

// Start launches the worker pool. Call Stop to drain it.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for range d.opts.Concurrency {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// InFlight reports how many legs are currently being placed.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Enqueue creates the durable call record and schedules the job after
// the optional delay. It returns the job id.
func (d *Dispatcher) Enqueue(ctx context.Context, spec JobSpec, delay time.Duration) (string, error) {
	job, err := d.createJob(ctx, spec)
	if err != nil {
		return "", err
	}
	d.scheduleJob(job, delay)
	return job.ID, nil
}

// EnqueueBatch creates every call record up front, then staggers
// dispatch by interval × index so a batch cannot burst past the outbound
// rate limit.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, specs []JobSpec, interval time.Duration) ([]string, error) {
	jobs := make([]*Job, 0, len(specs))
	for _, spec := range specs {
		job, err := d.createJob(ctx, spec)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	ids := make([]string, 0, len(jobs))
	for i, job := range jobs {
		d.scheduleJob(job, time.Duration(i)*interval)
		ids = append(ids, job.ID)
	}
	return ids, nil
}

// Cancel withdraws a job that has not yet left the queue. Once the
// external leg has been placed the job can no longer be cancelled and
// Cancel returns false. The job's call record is failed terminally.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) bool {
	d.mu.Lock()
	job, ok := d.pending[jobID]
	var stopTimer func() bool
	if ok {
		delete(d.pending, jobID)
		job.cancelled.Store(true)
		stopTimer = job.stopTimer
	}
	d.mu.Unlock()
	if !ok {
		return false
	}

	if stopTimer != nil {
		stopTimer()
	}
	if err := d.records.SetStatus(ctx, job.CallID, callrecord.StatusFailed); err != nil {
		logger.WarnContext(ctx, "Failed to fail call record for cancelled job",
			"jobId", jobID, "callId", job.CallID, "error", err)
	}
	return true
}

func (d *Dispatcher) createJob(ctx context.Context, spec JobSpec) (*Job, error) {
	callID := uuid.NewString()
	if err := d.records.Create(ctx, callrecord.Call{
		ID:         callID,
		Direction:  callrecord.DirectionOutbound,
		Status:     callrecord.StatusInitiated,
		FromNumber: spec.FromNumber,
		ToNumber:   spec.ToNumber,
		AgentID:    spec.AgentID,
		WorkflowID: spec.WorkflowID,
		TenantID:   spec.TenantID,
		Metadata:   spec.Metadata,
	}); err != nil {
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}

	job := &Job{ID: uuid.NewString(), CallID: callID, Spec: spec}
	d.mu.Lock()
	d.pending[job.ID] = job
	d.mu.Unlock()
	return job, nil
}

// scheduleJob arms the dispatch timer. stopTimer is written under d.mu
// because Cancel may read it from another goroutine while the job sits
// in pending; a timer that fires between Cancel and Stop is harmless
// since the cancelled flag turns its callback into a no-op.
func (d *Dispatcher) scheduleJob(job *Job, delay time.Duration) {
	stop := d.schedule(delay, func() {
		if job.cancelled.Load() {
			return
		}
		d.queue <- job
	})
	d.mu.Lock()
	job.stopTimer = stop
	d.mu.Unlock()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			if job.cancelled.Load() {
				continue
			}
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			d.runJob(ctx, job)
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job *Job) {
	ctx, span := tracer.Start(ctx, "dispatch outbound call")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("call.id", job.CallID),
		attribute.Int("job.attempt", job.Attempts+1),
	)

	d.inFlight.Add(1)
	job.Attempts++
	err := d.processJob(ctx, job)
	d.inFlight.Add(-1)

	if err == nil {
		d.mu.Lock()
		delete(d.pending, job.ID)
		d.mu.Unlock()
		return
	}

	recordedErr := fmt.Errorf("failed to place outbound call %s: %w", job.CallID, err)
	span.RecordError(recordedErr)
	span.SetStatus(codes.Error, recordedErr.Error())

	if !telephony.IsTransient(err) || job.Attempts >= d.opts.MaxAttempts {
		logger.ErrorContext(ctx, "Outbound call failed terminally",
			"jobId", job.ID, "callId", job.CallID, "attempts", job.Attempts, "error", err)
		d.mu.Lock()
		delete(d.pending, job.ID)
		d.mu.Unlock()
		return
	}

	backoff := d.opts.InitialBackoff << (job.Attempts - 1)
	logger.WarnContext(ctx, "Outbound call attempt failed, retrying",
		"jobId", job.ID, "callId", job.CallID, "attempts", job.Attempts, "backoff", backoff)
	d.scheduleJob(job, backoff)
}

// processJob places the external leg. Acceptance moves the record to
// RINGING; rejection moves it to FAILED and surfaces the error so the
// retry policy can decide what happens next.
func (d *Dispatcher) processJob(ctx context.Context, job *Job) error {
	providerCallID, err := d.dialer.PlaceCall(ctx, telephony.CallRequest{
		To:                job.Spec.ToNumber,
		From:              job.Spec.FromNumber,
		ConnectURL:        d.connectURL(job),
		StatusCallbackURL: d.publicBaseURL + "/voice/status",
	})
	if err != nil {
		if recordErr := d.records.SetStatus(ctx, job.CallID, callrecord.StatusFailed); recordErr != nil {
			logger.WarnContext(ctx, "Failed to mark call record failed",
				"callId", job.CallID, "error", recordErr)
		}
		return err
	}

	if err := d.records.SetProviderCallID(ctx, job.CallID, providerCallID); err != nil {
		logger.WarnContext(ctx, "Failed to attach provider call id",
			"callId", job.CallID, "error", err)
	}
	if err := d.records.SetStatus(ctx, job.CallID, callrecord.StatusRinging); err != nil {
		logger.WarnContext(ctx, "Failed to mark call record ringing",
			"callId", job.CallID, "error", err)
	}
	return nil
}

func (d *Dispatcher) connectURL(job *Job) string {
	query := url.Values{}
	query.Set("callId", job.CallID)
	query.Set("agentId", job.Spec.AgentID)
	query.Set("workflowId", job.Spec.WorkflowID)
	query.Set("tenantId", job.Spec.TenantID)
	return d.publicBaseURL + "/voice/outbound-connect?" + query.Encode()
}
