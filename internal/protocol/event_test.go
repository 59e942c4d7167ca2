package protocol

import "testing"

func decode(t *testing.T, payload string) Event {
	t.Helper()
	evt, err := Decode([]byte(payload))
	if err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return evt
}

func TestKindInference(t *testing.T) {
	cases := []struct {
		payload string
		want    Kind
	}{
		{`{"chat_id":"c-1"}`, KindChatID},
		{`{"meta":{"model":"m"}}`, KindMeta},
		{`{"content":"hi"}`, KindDelta},
		{`{"thought":""}`, KindDelta},
		{`{"thought_duration":1.5}`, KindThoughtDuration},
		{`{"total_duration":2.25}`, KindTotalDuration},
		{`{"prompt_tokens":10}`, KindUsage},
		{`{"finish_reason":"stop"}`, KindUsage},
		{`{"tps":12.3,"total_tokens":99}`, KindUsage},
		{`{"citations":[{"path":"a.md"}]}`, KindCitations},
		{`{"citations":[]}`, KindCitations},
		{`{"type":"task_event","task_id":"t1","status":"running","trace_id":"tr"}`, KindTaskEvent},
		{`{"type":"task_result","result":{"tasks":[]},"trace_id":"tr"}`, KindTaskResult},
		{`{"error":"boom"}`, KindError},
		{`{}`, KindUnknown},
		{`{"something_new":true}`, KindUnknown},
	}
	for _, tc := range cases {
		evt := decode(t, tc.payload)
		if evt.Kind() != tc.want {
			t.Fatalf("payload %s: expected kind %d, got %d", tc.payload, tc.want, evt.Kind())
		}
	}
}

func TestKindPrecedence(t *testing.T) {
	// chat_id wins over anything else present in the same record.
	evt := decode(t, `{"chat_id":"c-1","content":"x"}`)
	if evt.Kind() != KindChatID {
		t.Fatalf("chat_id must take precedence, got %d", evt.Kind())
	}

	// A type tag beats field presence: task events may carry an error
	// field that must not classify them as terminal error events.
	evt = decode(t, `{"type":"task_event","task_id":"t1","status":"failed","error":"cancelled"}`)
	if evt.Kind() != KindTaskEvent {
		t.Fatalf("task_event tag must take precedence, got %d", evt.Kind())
	}
}

func TestPresenceVersusZero(t *testing.T) {
	evt := decode(t, `{"content":""}`)
	if evt.Kind() != KindDelta {
		t.Fatalf("empty-but-present content must classify as delta")
	}
	if evt.Content == nil || *evt.Content != "" {
		t.Fatalf("content presence lost in decode")
	}

	evt = decode(t, `{"thought_duration":0}`)
	if evt.Kind() != KindThoughtDuration {
		t.Fatalf("zero-but-present thought_duration must classify")
	}
}

func TestValidateRequests(t *testing.T) {
	if err := (ChatRequest{}).Validate(); err == nil {
		t.Fatalf("expected missing message to fail validation")
	}
	if err := (ChatRequest{Message: "hi", Provider: "p", Model: "m"}).Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	if err := (TaskBatchRequest{ParentChatID: "c"}).Validate(); err == nil {
		t.Fatalf("expected empty batch to fail validation")
	}
	err := (TaskBatchRequest{ParentChatID: "c", Tasks: []TaskSpec{{Provider: "p", Model: "m"}}}).Validate()
	if err == nil {
		t.Fatalf("expected promptless task to fail validation")
	}
}
