package session

import (
	"io"
	"strings"
	"testing"

	chatmodel "github.com/jhyang-dev/reverie/backend/internal/model/chat"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
	"github.com/jhyang-dev/reverie/backend/internal/service/chat"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	return NewRegistry(logger.NewNop()).Get("room-1")
}

func TestSendMaterializesStream(t *testing.T) {
	s := newSession(t)

	stream := strings.NewReader(
		`{"content":"Hello"}` + "\n" +
			`{"content":" there"}` + "\n" +
			`{"done":true,"tokens":12,"cost":1,"suggested_actions":["Answer their question"]}` + "\n")

	if ok := s.Send("hi", stream, Callbacks{}); !ok {
		t.Fatal("send should be accepted on an idle session")
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant, got %d messages", len(msgs))
	}
	if msgs[0].Role != chatmodel.RoleUser || msgs[0].Pending {
		t.Fatalf("user message should be confirmed: %+v", msgs[0])
	}
	if msgs[1].Role != chatmodel.RoleAssistant || msgs[1].Content != "Hello there" {
		t.Fatalf("assistant message not materialized from buffer: %+v", msgs[1])
	}
	if s.IsStreaming() {
		t.Fatal("streaming flag must clear on the terminal frame")
	}
	if got := s.SuggestedActions(); len(got) != 1 || got[0] != "Answer their question" {
		t.Fatalf("suggested actions not captured: %v", got)
	}
	if s.ModelStatus() != chat.StatusStable {
		t.Fatalf("expected stable status, got %s", s.ModelStatus())
	}
}

func TestSendErrorRollsBackOptimisticMessage(t *testing.T) {
	s := newSession(t)

	var failMsg string
	stream := strings.NewReader(`{"error":"model unavailable"}` + "\n")
	s.Send("hi", stream, Callbacks{OnFailure: func(m string) { failMsg = m }})

	if len(s.Messages()) != 0 {
		t.Fatalf("optimistic message must be rolled back, got %v", s.Messages())
	}
	if s.ModelStatus() != chat.StatusUnstable {
		t.Fatalf("expected unstable status, got %s", s.ModelStatus())
	}
	if failMsg != "model unavailable" {
		t.Fatalf("failure callback not invoked: %q", failMsg)
	}
}

func TestSendInsufficientPointsCallback(t *testing.T) {
	s := newSession(t)

	var broke, failed bool
	stream := strings.NewReader(`{"error":"not enough points","code":"INSUFFICIENT_POINTS"}` + "\n")
	s.Send("hi", stream, Callbacks{
		OnInsufficientBalance: func(string) { broke = true },
		OnFailure:             func(string) { failed = true },
	})

	if !broke {
		t.Fatal("insufficient-balance callback must fire for the reserved code")
	}
	if failed {
		t.Fatal("generic failure callback must not fire for the reserved code")
	}
}

// blockingReader serves one line, then blocks until released.
type blockingReader struct {
	first   io.Reader
	release chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	n, err := b.first.Read(p)
	if err == io.EOF {
		<-b.release
		return 0, io.EOF
	}
	return n, err
}

func TestSendIgnoredWhileStreaming(t *testing.T) {
	s := newSession(t)

	br := &blockingReader{
		first:   strings.NewReader(`{"content":"partial"}` + "\n"),
		release: make(chan struct{}),
	}

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		s.Send("first", br, Callbacks{})
		close(done)
	}()
	<-started

	for !s.IsStreaming() {
	}

	if ok := s.Send("second", strings.NewReader(`{"done":true}`+"\n"), Callbacks{}); ok {
		t.Fatal("send must be ignored while another stream is in flight")
	}

	close(br.release)
	<-done

	// The ignored call must have left no trace: only the first exchange
	// remains, failed terminally because its stream ended without done.
	for _, msg := range s.Messages() {
		if msg.Content == "second" {
			t.Fatal("ignored send leaked an optimistic message")
		}
	}
}

func TestRegenerateReplacesContentAndRecordsAudit(t *testing.T) {
	s := newSession(t)
	s.Revalidate([]Message{
		{ID: "m1", Role: chatmodel.RoleUser, Content: "hello"},
		{ID: "m2", Role: chatmodel.RoleAssistant, Content: "old reply"},
	})

	stream := strings.NewReader(
		`{"content":"new reply"}` + "\n" +
			`{"done":true,"tokens":5,"cost":1}` + "\n")
	if ok := s.Regenerate("m2", stream, Callbacks{}); !ok {
		t.Fatal("regenerate should be accepted")
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("regenerate must not change message count, got %d", len(msgs))
	}
	if msgs[1].Content != "new reply" {
		t.Fatalf("target content not replaced: %q", msgs[1].Content)
	}

	audit := s.LastRegeneration()
	if audit == nil || audit.MessageID != "m2" ||
		audit.PreviousContent != "old reply" || audit.NewContent != "new reply" {
		t.Fatalf("audit record incomplete: %+v", audit)
	}
}

func TestRegenerateErrorRestoresPreviousContent(t *testing.T) {
	s := newSession(t)
	s.Revalidate([]Message{
		{ID: "m1", Role: chatmodel.RoleUser, Content: "hello"},
		{ID: "m2", Role: chatmodel.RoleAssistant, Content: "old reply"},
	})

	stream := strings.NewReader(`{"error":"upstream 500"}` + "\n")
	s.Regenerate("m2", stream, Callbacks{})

	msgs := s.Messages()
	if msgs[1].Content != "old reply" || msgs[1].Pending {
		t.Fatalf("target must be restored on error: %+v", msgs[1])
	}
	if s.ModelStatus() != chat.StatusUnstable {
		t.Fatalf("expected unstable status, got %s", s.ModelStatus())
	}
}

func TestTruncatedStreamUnlocksSession(t *testing.T) {
	s := newSession(t)

	stream := strings.NewReader(`{"content":"half a"}` + "\n")
	s.Send("hi", stream, Callbacks{})

	if s.IsStreaming() {
		t.Fatal("session must not stay locked after a truncated stream")
	}
	if len(s.Messages()) != 0 {
		t.Fatal("truncated stream must roll back the optimistic message")
	}

	done := strings.NewReader(`{"done":true}` + "\n")
	if ok := s.Send("again", done, Callbacks{}); !ok {
		t.Fatal("session must accept a new send after recovery")
	}
}

func TestRevalidateResetsState(t *testing.T) {
	s := newSession(t)
	s.Send("hi", strings.NewReader(`{"error":"boom"}`+"\n"), Callbacks{})

	s.Revalidate([]Message{{ID: "m1", Role: chatmodel.RoleUser, Content: "hello"}})
	if got := s.Messages(); len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("revalidate must adopt the authoritative list, got %v", got)
	}
	if s.IsStreaming() || s.Buffer() != "" {
		t.Fatal("revalidate must clear transient streaming state")
	}
}
