package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
)

// JobStatus is the lifecycle state of a SpeechJob.
type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobSynthesizing JobStatus = "synthesizing"
	JobDone         JobStatus = "done"
	JobFailed       JobStatus = "failed"
)

// SpeechJob is the synthesis of one sentence. Audio is set iff Status is JobDone.
type SpeechJob struct {
	Seq    int
	Text   string
	Status JobStatus
	Audio  []byte
	Err    error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// MaxInFlight caps concurrent synthesis calls. Values < 1 mean 1.
	MaxInFlight int
	// Timeout bounds each synthesis call. Zero means no per-call bound.
	Timeout time.Duration
	Voice   string
	Format  string
	Speed   float64
}

// Dispatcher runs one synthesis job per sentence against a tts.Provider with a
// bounded number of calls in flight. Dispatch never blocks; queued jobs start
// in dispatch order as slots free up. Completion order is unspecified.
type Dispatcher struct {
	ctx      context.Context
	provider tts.Provider
	opts     DispatcherOptions
	results  chan SpeechJob

	mu       sync.Mutex
	queue    []SpeechJob
	inFlight int
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher whose jobs live no longer than ctx.
func NewDispatcher(ctx context.Context, provider tts.Provider, opts DispatcherOptions) *Dispatcher {
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	return &Dispatcher{
		ctx:      ctx,
		provider: provider,
		opts:     opts,
		results:  make(chan SpeechJob),
	}
}

// Results delivers every resolved job exactly once, unless ctx ends first.
func (d *Dispatcher) Results() <-chan SpeechJob {
	return d.results
}

// Dispatch queues a sentence for synthesis and returns immediately.
func (d *Dispatcher) Dispatch(s Sentence) {
	d.mu.Lock()
	d.queue = append(d.queue, SpeechJob{Seq: s.Seq, Text: s.Text, Status: JobPending})
	d.wg.Add(1)
	d.pumpLocked()
	d.mu.Unlock()
}

// Wait blocks until every dispatched job has resolved or been abandoned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) pumpLocked() {
	for d.inFlight < d.opts.MaxInFlight && len(d.queue) > 0 {
		job := d.queue[0]
		d.queue = d.queue[1:]
		d.inFlight++
		go d.run(job)
	}
}

func (d *Dispatcher) run(job SpeechJob) {
	defer d.wg.Done()

	job = d.synthesize(job)

	d.mu.Lock()
	d.inFlight--
	d.pumpLocked()
	d.mu.Unlock()

	select {
	case d.results <- job:
	case <-d.ctx.Done():
	}
}

func (d *Dispatcher) synthesize(job SpeechJob) SpeechJob {
	if err := d.ctx.Err(); err != nil {
		job.Status, job.Err = JobFailed, err
		return job
	}
	text := strings.TrimSpace(job.Text)
	if text == "" {
		job.Status, job.Err = JobFailed, tts.ErrEmptyText
		return job
	}

	ctx := d.ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	job.Status = JobSynthesizing
	synth, err := d.provider.Synthesize(ctx, text, tts.SynthesizeOptions{
		Voice:  d.opts.Voice,
		Format: d.opts.Format,
		Speed:  d.opts.Speed,
	})
	switch {
	case err != nil:
		job.Status, job.Err = JobFailed, err
	case synth == nil || len(synth.Audio) == 0:
		job.Status, job.Err = JobFailed, errors.New("tts: empty audio")
	default:
		job.Status, job.Audio = JobDone, synth.Audio
	}
	return job
}
