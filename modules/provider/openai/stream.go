package openai

import (
	"context"
	"errors"
	"io"

	sdkopenai "github.com/sashabaranov/go-openai"

	"github.com/gantryio/gantry/internal/provider"
)

// streamBufferSize matches the manager's merge channel buffer.
const streamBufferSize = 16

// GenerateStream implements provider.Adapter. Connection and HTTP-level
// errors surface from the stream constructor as a direct return, keeping
// them eligible for retry and failover. Mid-stream errors arrive via
// Event.Err.
func (a *Adapter) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	cr := buildRequest(req, a.rec.Model)

	stream, err := a.client.CreateChatCompletionStream(ctx, cr)
	if err != nil {
		return nil, mapError(err)
	}

	ch := make(chan provider.Event, streamBufferSize)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		a.consumeStream(ctx, stream, ch)
	}()

	return ch, nil
}

// streamState tracks per-stream accumulation: the id of each tool call by
// its delta index, the finish reason, and the final usage chunk.
type streamState struct {
	callIDs      map[int]string
	finishReason provider.FinishReason
	usage        *provider.TokenUsage
}

// consumeStream reads chunks until EOF or error. OpenAI delivers the finish
// reason on the last content chunk and, with usage reporting enabled, a
// trailing chunk with no choices carrying the token tally; Done is emitted
// once EOF confirms the stream is complete.
func (a *Adapter) consumeStream(ctx context.Context, stream *sdkopenai.ChatCompletionStream, ch chan<- provider.Event) {
	state := streamState{callIDs: make(map[int]string)}

	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			emit(ctx, ch, provider.Event{
				Done:         true,
				FinishReason: state.finishReason,
				Usage:        state.usage,
			})
			return
		}
		if err != nil {
			emit(ctx, ch, provider.Event{Err: mapError(err)})
			return
		}

		a.processChunk(ctx, &state, chunk, ch)
	}
}

// processChunk forwards one chunk's deltas as events.
func (a *Adapter) processChunk(ctx context.Context, state *streamState, chunk sdkopenai.ChatCompletionStreamResponse, ch chan<- provider.Event) {
	if chunk.Usage != nil {
		state.usage = toUsage(chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		state.finishReason = toFinishReason(choice.FinishReason)
	}
	if choice.Delta.Content != "" {
		emit(ctx, ch, provider.Event{Text: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		a.processToolDelta(ctx, state, tc, ch)
	}
}

// processToolDelta translates one tool call delta into a fragment. The
// first delta for an index carries the call id and function name; later
// deltas carry only argument text and are keyed back to the id by index.
func (a *Adapter) processToolDelta(ctx context.Context, state *streamState, tc sdkopenai.ToolCall, ch chan<- provider.Event) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}

	if tc.ID != "" {
		state.callIDs[idx] = tc.ID
	}
	id, ok := state.callIDs[idx]
	if !ok {
		// Argument delta for a call whose opening delta never arrived.
		return
	}

	if tc.Function.Name == "" && tc.Function.Arguments == "" {
		return
	}
	emit(ctx, ch, provider.Event{
		Fragment: &provider.ToolCallFragment{
			ID:   id,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
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
