package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// maxToolBuffers bounds the number of concurrently accumulating tool calls
// in one stream, in case a misbehaving upstream opens fragments without
// ever completing them.
const maxToolBuffers = 100

// maxToolCallArgs bounds the accumulated argument size for a single tool
// call to protect against unbounded fragment streams.
const maxToolCallArgs = 1 * 1024 * 1024 // 1 MB

// mergeBufferSize matches the adapter stream channel buffer.
const mergeBufferSize = 16

// toolCallBuffer accumulates one tool call's fragments in arrival order.
type toolCallBuffer struct {
	name string
	args strings.Builder
}

// toolCallAccumulator reconstructs complete tool calls from fragments. It is
// transient per in-flight request and discarded when the stream terminates.
type toolCallAccumulator struct {
	order []string
	bufs  map[string]*toolCallBuffer
}

// newToolCallAccumulator creates an empty accumulator.
func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{bufs: make(map[string]*toolCallBuffer)}
}

// Add appends a fragment to its buffer. It returns a complete ToolCall once
// the accumulated argument text parses as well-formed JSON, or an error when
// the stream exceeds the buffer limits.
func (a *toolCallAccumulator) Add(f *ToolCallFragment) (*ToolCall, error) {
	buf, ok := a.bufs[f.ID]
	if !ok {
		if len(a.bufs) >= maxToolBuffers {
			return nil, fmt.Errorf("exceeded max concurrent tool buffers (%d)", maxToolBuffers)
		}
		buf = &toolCallBuffer{}
		a.bufs[f.ID] = buf
		a.order = append(a.order, f.ID)
	}

	if buf.name == "" {
		buf.name = f.Name
	}
	if buf.args.Len()+len(f.Args) > maxToolCallArgs {
		return nil, fmt.Errorf("tool call %s exceeded max argument size (%d bytes)", f.ID, maxToolCallArgs)
	}
	buf.args.WriteString(f.Args)

	args := buf.args.String()
	if len(args) == 0 || !json.Valid([]byte(args)) {
		return nil, nil
	}

	a.remove(f.ID)
	return &ToolCall{ID: f.ID, Name: buf.name, Arguments: json.RawMessage(args)}, nil
}

// Flush drains all still-incomplete buffers as malformed-call errors, in
// first-seen order.
func (a *toolCallAccumulator) Flush() []*MalformedToolCallError {
	var errs []*MalformedToolCallError
	for _, id := range a.order {
		buf, ok := a.bufs[id]
		if !ok {
			continue
		}
		errs = append(errs, &MalformedToolCallError{ID: id, Name: buf.name, Raw: buf.args.String()})
	}
	a.order = a.order[:0]
	clear(a.bufs)
	return errs
}

// remove deletes one buffer, preserving the order of the rest.
func (a *toolCallAccumulator) remove(id string) {
	delete(a.bufs, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// merger normalizes one adapter stream into the caller-visible sequence.
type merger struct {
	ctx context.Context
	acc *toolCallAccumulator
	out chan<- Event
}

// mergeStream consumes an adapter stream, starting with an optional
// pre-read first event, and writes the normalized caller sequence to out:
// text forwarded immediately, tool calls emitted only once complete,
// incomplete calls flushed as MalformedToolCallError events at Done. It
// returns the usage reported at Done and the terminal adapter error, nil
// when the stream completed successfully. It never closes out.
func mergeStream(ctx context.Context, first *Event, src <-chan Event, out chan<- Event) (*TokenUsage, error) {
	mg := &merger{ctx: ctx, acc: newToolCallAccumulator(), out: out}

	if first != nil {
		if done, usage, err := mg.handle(*first); done {
			return usage, err
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Caller cancellation surfaces unchanged so the forwarder can
			// tell a disconnect from a provider that ran out the clock.
			if err := ctx.Err(); errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, &AdapterError{Code: CodeTimeout, Message: "stream aborted", Retryable: true, Err: ctx.Err()}

		case ev, ok := <-src:
			if !ok {
				// Upstream closed without Done. Treat as successful
				// termination but still surface incomplete tool calls.
				mg.flushMalformed()
				return nil, nil
			}
			if done, usage, err := mg.handle(ev); done {
				return usage, err
			}
		}
	}
}

// handle processes a single adapter event. done is true when the stream has
// terminated; err is the terminal adapter error, nil for successful Done.
func (mg *merger) handle(ev Event) (done bool, usage *TokenUsage, err error) {
	switch {
	case ev.Err != nil:
		mg.emit(Event{Err: ev.Err})
		return true, nil, ev.Err

	case ev.Fragment != nil:
		call, err := mg.acc.Add(ev.Fragment)
		if err != nil {
			wrapped := &AdapterError{Code: CodeUnknown, Message: err.Error(), Err: err}
			mg.emit(Event{Err: wrapped})
			return true, nil, wrapped
		}
		if call != nil {
			mg.emit(Event{ToolCall: call})
		}
		return false, nil, nil

	case ev.Done:
		mg.flushMalformed()
		mg.emit(Event{Done: true, FinishReason: ev.FinishReason, Usage: ev.Usage})
		return true, ev.Usage, nil

	default:
		if ev.Text != "" {
			mg.emit(Event{Text: ev.Text})
		}
		return false, nil, nil
	}
}

// flushMalformed emits one error event per incomplete tool call buffer.
// These are diagnostic, not terminal: the merged stream still ends
// successfully afterwards, and they never affect health or rate state.
func (mg *merger) flushMalformed() {
	for _, merr := range mg.acc.Flush() {
		mg.emit(Event{Err: merr})
	}
}

// emit sends an event, respecting context cancellation.
func (mg *merger) emit(ev Event) bool {
	return emit(mg.ctx, mg.out, ev)
}

// emit sends an event to ch, respecting context cancellation.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
