package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
)

// TextSource yields completion fragments in order and io.EOF at the end.
type TextSource interface {
	Next() (string, error)
}

// EmitError reports that the client-facing Emitter failed, usually because
// the client went away.
type EmitError struct {
	Err error
}

func (e *EmitError) Error() string { return "voice: emit: " + e.Err.Error() }
func (e *EmitError) Unwrap() error { return e.Err }

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Dispatcher DispatcherOptions
	// OnJob, if set, observes every resolved speech job on the coordinating goroutine.
	OnJob func(SpeechJob)
}

// Pipeline coordinates one turn: it forwards text as it arrives and, when a
// tts.Provider is configured, speaks each sentence and releases the audio in
// sentence order.
type Pipeline struct {
	tts    tts.Provider
	opts   PipelineOptions
	logger *slog.Logger
}

// NewPipeline creates a pipeline. A nil provider yields a text-only pipeline.
func NewPipeline(provider tts.Provider, opts PipelineOptions, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{tts: provider, opts: opts, logger: logger}
}

// TurnOutput summarises a finished stream.
type TurnOutput struct {
	Text          string
	Sentences     int
	AudioReleased int
	AudioSkipped  int
}

// Run drives src to exhaustion, writing events to out from the calling
// goroutine only. It returns once the text is exhausted and every sentence's
// audio has been released or skipped. On cancellation or a source error,
// outstanding synthesis is abandoned and the error is returned.
func (p *Pipeline) Run(ctx context.Context, src TextSource, out Emitter) (TurnOutput, error) {
	ctx, cancel := context.WithCancel(ctx)

	mux := NewMultiplexer(out)
	var seg *Segmenter
	var disp *Dispatcher
	var results <-chan SpeechJob
	if p != nil && p.tts != nil {
		seg = NewSegmenter()
		disp = NewDispatcher(ctx, p.tts, p.opts.Dispatcher)
		results = disp.Results()
	}
	defer func() {
		cancel()
		if disp != nil {
			disp.Wait()
		}
	}()

	type fragment struct {
		text string
		err  error
	}
	fragCh := make(chan fragment, 1)
	go func() {
		defer close(fragCh)
		for {
			text, err := src.Next()
			select {
			case fragCh <- fragment{text: text, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var frags <-chan fragment = fragCh
	speak := func(s Sentence) {
		mux.Expect(s)
		disp.Dispatch(s)
	}
	endOfText := func() {
		frags = nil
		if seg == nil {
			return
		}
		if last, ok := seg.Flush(); ok {
			speak(last)
		}
	}

	for frags != nil || !mux.Settled() {
		if err := ctx.Err(); err != nil {
			return p.output(mux, seg), err
		}
		select {
		case <-ctx.Done():
			return p.output(mux, seg), ctx.Err()

		case f, ok := <-frags:
			if !ok {
				endOfText()
				continue
			}
			if f.text != "" {
				if err := mux.Text(f.text); err != nil {
					return p.output(mux, seg), &EmitError{Err: err}
				}
				if seg != nil {
					for _, s := range seg.Push(f.text) {
						speak(s)
					}
				}
			}
			if f.err != nil {
				if !errors.Is(f.err, io.EOF) {
					return p.output(mux, seg), f.err
				}
				endOfText()
			}

		case job := <-results:
			if job.Status != JobDone {
				p.logger.Warn("speech synthesis failed", "seq", job.Seq, "error", job.Err)
			}
			if p.opts.OnJob != nil {
				p.opts.OnJob(job)
			}
			if err := mux.Resolve(job); err != nil {
				return p.output(mux, seg), &EmitError{Err: err}
			}
		}
	}

	return p.output(mux, seg), ctx.Err()
}

func (p *Pipeline) output(mux *Multiplexer, seg *Segmenter) TurnOutput {
	out := TurnOutput{
		Text:          mux.Transcript(),
		AudioReleased: mux.Released(),
		AudioSkipped:  mux.Skipped(),
	}
	if seg != nil {
		out.Sentences = seg.Count()
	}
	return out
}
