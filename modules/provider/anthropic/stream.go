package anthropic

import (
	"context"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/gantryio/gantry/internal/provider"
)

// streamBufferSize matches the manager's merge channel buffer.
const streamBufferSize = 16

// GenerateStream implements provider.Adapter. The first SSE event is consumed
// synchronously so initial connection errors (auth, network, 4xx) surface as
// a direct return and remain eligible for retry and failover. Mid-stream
// errors arrive via Event.Err.
func (a *Adapter) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	params := convertRequest(req, a.rec.Model)

	stream := a.client.Messages.NewStreaming(ctx, params)

	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, mapError(err)
		}
		// Stream ended without error or events.
		ch := make(chan provider.Event)
		close(ch)
		return ch, nil
	}

	firstEvent := stream.Current()

	ch := make(chan provider.Event, streamBufferSize)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		a.consumeStreamWithFirst(ctx, stream, firstEvent, ch)
	}()

	return ch, nil
}

// streamState tracks accumulated state across SSE events for one stream.
type streamState struct {
	// inputTokens captured from MessageStartEvent.
	inputTokens int64

	// blocks maps content block indexes to in-progress tool_use blocks.
	blocks map[int64]*toolBlock
}

// toolBlock tracks one tool_use content block between its start and stop
// events. wroteArgs records whether any input JSON delta was forwarded.
type toolBlock struct {
	id        string
	wroteArgs bool
}

// consumeStreamWithFirst processes the already-consumed first event, then
// continues consuming the rest of the stream.
func (a *Adapter) consumeStreamWithFirst(
	ctx context.Context,
	stream *ssestream.Stream[sdkanthropic.MessageStreamEventUnion],
	firstEvent sdkanthropic.MessageStreamEventUnion,
	ch chan<- provider.Event,
) {
	state := streamState{blocks: make(map[int64]*toolBlock)}

	a.processEvent(ctx, &state, firstEvent, ch)

	for stream.Next() {
		if ctx.Err() != nil {
			return
		}
		a.processEvent(ctx, &state, stream.Current(), ch)
	}

	if err := stream.Err(); err != nil {
		emit(ctx, ch, provider.Event{Err: mapError(err)})
	}
}

// processEvent dispatches a single SSE event to the appropriate handler.
func (a *Adapter) processEvent(
	ctx context.Context,
	state *streamState,
	event sdkanthropic.MessageStreamEventUnion,
	ch chan<- provider.Event,
) {
	switch ev := event.AsAny().(type) {
	case sdkanthropic.MessageStartEvent:
		state.inputTokens = ev.Message.Usage.InputTokens

	case sdkanthropic.ContentBlockStartEvent:
		a.handleBlockStart(ctx, state, ev, ch)

	case sdkanthropic.ContentBlockDeltaEvent:
		a.handleBlockDelta(ctx, state, ev, ch)

	case sdkanthropic.ContentBlockStopEvent:
		a.handleBlockStop(ctx, state, ev, ch)

	case sdkanthropic.MessageDeltaEvent:
		a.handleMessageDelta(ctx, state, ev, ch)
	}
}

// handleBlockStart opens a fragment for a new tool_use block. The opening
// fragment carries the tool call's id and name with no arguments yet.
func (a *Adapter) handleBlockStart(ctx context.Context, state *streamState, ev sdkanthropic.ContentBlockStartEvent, ch chan<- provider.Event) {
	if ev.ContentBlock.Type != "tool_use" {
		return
	}
	state.blocks[ev.Index] = &toolBlock{id: ev.ContentBlock.ID}
	emit(ctx, ch, provider.Event{
		Fragment: &provider.ToolCallFragment{
			ID:   ev.ContentBlock.ID,
			Name: ev.ContentBlock.Name,
		},
	})
}

// handleBlockDelta forwards incremental content: text deltas as-is, tool
// input JSON as argument fragments.
func (a *Adapter) handleBlockDelta(
	ctx context.Context,
	state *streamState,
	ev sdkanthropic.ContentBlockDeltaEvent,
	ch chan<- provider.Event,
) {
	switch delta := ev.Delta.AsAny().(type) {
	case sdkanthropic.TextDelta:
		emit(ctx, ch, provider.Event{Text: delta.Text})

	case sdkanthropic.InputJSONDelta:
		block, ok := state.blocks[ev.Index]
		if !ok || delta.PartialJSON == "" {
			return
		}
		block.wroteArgs = true
		emit(ctx, ch, provider.Event{
			Fragment: &provider.ToolCallFragment{ID: block.id, Args: delta.PartialJSON},
		})
	}
}

// handleBlockStop closes a tool_use block. A call invoked with no arguments
// produces no input deltas; an empty-object fragment completes it.
func (a *Adapter) handleBlockStop(
	ctx context.Context,
	state *streamState,
	ev sdkanthropic.ContentBlockStopEvent,
	ch chan<- provider.Event,
) {
	block, ok := state.blocks[ev.Index]
	if !ok {
		return
	}
	if !block.wroteArgs {
		emit(ctx, ch, provider.Event{
			Fragment: &provider.ToolCallFragment{ID: block.id, Args: "{}"},
		})
	}
	delete(state.blocks, ev.Index)
}

// handleMessageDelta terminates the stream with the finish reason and the
// final usage tally.
func (a *Adapter) handleMessageDelta(
	ctx context.Context,
	state *streamState,
	ev sdkanthropic.MessageDeltaEvent,
	ch chan<- provider.Event,
) {
	outputTokens := ev.Usage.OutputTokens
	inputTokens := state.inputTokens

	emit(ctx, ch, provider.Event{
		Done:         true,
		FinishReason: convertStopReason(ev.Delta.StopReason),
		Usage: &provider.TokenUsage{
			PromptTokens:     int(inputTokens),
			CompletionTokens: int(outputTokens),
			TotalTokens:      int(inputTokens + outputTokens),
		},
	})
}

// emit sends an event to the channel, respecting context cancellation.
func emit(ctx context.Context, ch chan<- provider.Event, ev provider.Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
