package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gantryio/gantry/internal/provider"
)

func doneEvent(total int) provider.Event {
	return provider.Event{
		Done:         true,
		FinishReason: provider.FinishReasonStop,
		Usage:        &provider.TokenUsage{PromptTokens: total / 2, CompletionTokens: total - total/2, TotalTokens: total},
	}
}

func postGenerate(t *testing.T, srv string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv+"/v1/generate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/generate: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGenerate_StreamsEvents(t *testing.T) {
	gen := &fakeGenerator{events: []provider.Event{
		{Text: "hel"},
		{Text: "lo"},
		doneEvent(30),
	}}
	_, srv := newTestServer(t, testConfig(), gen)

	resp := postGenerate(t, srv.URL, `{"provider_id":"alpha","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	frames := readFrames(t, resp.Body)
	if len(frames) != 3 {
		t.Fatalf("frames = %+v, want 3", frames)
	}
	if got := frames[0].Text + frames[1].Text; got != "hello" {
		t.Errorf("text = %q", got)
	}
	last := frames[2]
	if !last.Done || last.FinishReason != provider.FinishReasonStop || last.Usage == nil || last.Usage.TotalTokens != 30 {
		t.Errorf("done frame = %+v", last)
	}

	if req := gen.request(); req.ProviderID != "alpha" || len(req.Messages) != 1 {
		t.Errorf("forwarded request = %+v", req)
	}
}

func TestGenerate_ToolCallFrame(t *testing.T) {
	gen := &fakeGenerator{events: []provider.Event{
		{ToolCall: &provider.ToolCall{ID: "call_1", Name: "get_weather", Arguments: []byte(`{"city":"Paris"}`)}},
		doneEvent(10),
	}}
	_, srv := newTestServer(t, testConfig(), gen)

	resp := postGenerate(t, srv.URL, `{"messages":[{"role":"user","content":"weather?"}]}`)
	frames := readFrames(t, resp.Body)
	if len(frames) != 2 || frames[0].ToolCall == nil {
		t.Fatalf("frames = %+v", frames)
	}
	tc := frames[0].ToolCall
	if tc.ID != "call_1" || tc.Name != "get_weather" || string(tc.Arguments) != `{"city":"Paris"}` {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestGenerate_BadBody(t *testing.T) {
	_, srv := newTestServer(t, testConfig(), &fakeGenerator{})
	resp := postGenerate(t, srv.URL, `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerate_NoProviderIs503(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("%w: effective chain is empty", provider.ErrNoProvider)}
	_, srv := newTestServer(t, testConfig(), gen)

	resp := postGenerate(t, srv.URL, `{"messages":[]}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGenerate_ChainExhaustedIs502(t *testing.T) {
	gen := &fakeGenerator{err: &provider.ChainExhaustedError{Attempts: []provider.ProviderAttempt{
		{ProviderID: "alpha", Attempts: 2, Err: provider.ErrCircuitOpen},
	}}}
	_, srv := newTestServer(t, testConfig(), gen)

	resp := postGenerate(t, srv.URL, `{"messages":[]}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestGenerate_MidStreamErrorFrame(t *testing.T) {
	gen := &fakeGenerator{events: []provider.Event{
		{Text: "partial"},
		{Err: &provider.AdapterError{Code: provider.CodeNetwork, Message: "connection reset", Retryable: true}},
	}}
	_, srv := newTestServer(t, testConfig(), gen)

	resp := postGenerate(t, srv.URL, `{"messages":[]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (stream already committed)", resp.StatusCode)
	}
	frames := readFrames(t, resp.Body)
	if len(frames) != 2 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[1].Error == nil || frames[1].Error.Code != string(provider.CodeNetwork) {
		t.Errorf("error frame = %+v", frames[1])
	}
}

func TestGenerate_MalformedToolCallFrameIsNotTerminal(t *testing.T) {
	gen := &fakeGenerator{events: []provider.Event{
		{Err: &provider.MalformedToolCallError{ID: "call_1", Name: "lookup", Raw: `{"x":`}},
		doneEvent(5),
	}}
	_, srv := newTestServer(t, testConfig(), gen)

	resp := postGenerate(t, srv.URL, `{"messages":[]}`)
	frames := readFrames(t, resp.Body)
	if len(frames) != 2 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Error == nil || frames[0].Error.Code != "MALFORMED_TOOL_CALL" {
		t.Errorf("malformed frame = %+v", frames[0])
	}
	if !frames[1].Done {
		t.Errorf("done frame = %+v", frames[1])
	}
}

func TestSetEnabled(t *testing.T) {
	gen := &fakeGenerator{}
	_, srv := newTestServer(t, testConfig(), gen)

	resp, err := http.Post(srv.URL+"/v1/providers/alpha/enabled", "application/json", strings.NewReader(`{"enabled":false}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if enabled, ok := gen.enabled["alpha"]; !ok || enabled {
		t.Errorf("enabled map = %+v", gen.enabled)
	}
}

func TestSetEnabled_UnknownProviderIs404(t *testing.T) {
	gen := &fakeGenerator{setEnabledErr: fmt.Errorf("%w: ghost", provider.ErrNoProvider)}
	_, srv := newTestServer(t, testConfig(), gen)

	resp, err := http.Post(srv.URL+"/v1/providers/ghost/enabled", "application/json", strings.NewReader(`{"enabled":true}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
