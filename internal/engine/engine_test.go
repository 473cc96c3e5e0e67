package engine_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/campus-chat/internal/engine"
	"github.com/MegaGrindStone/campus-chat/internal/format"
	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/MegaGrindStone/campus-chat/internal/render"
)

type mockHistory struct {
	mu       sync.Mutex
	loaded   []models.Message
	messages []models.Message
	loads    int
}

type mockRenderer struct {
	mu          sync.Mutex
	events      []string
	messages    []models.Message
	chips       [][]models.SuggestionChip
	indicators  int
	suggestions chan []models.SuggestionChip
}

type mockAnswerer struct {
	mu      sync.Mutex
	queries []string
	ask     func(ctx context.Context, text string) (models.Reply, error)
}

type mockSuggestions struct {
	mu     sync.Mutex
	topics []string
	labels []string
	err    error
}

func newRenderer() *mockRenderer {
	return &mockRenderer{suggestions: make(chan []models.SuggestionChip, 4)}
}

func reply(text, topic string) *mockAnswerer {
	return &mockAnswerer{ask: func(context.Context, string) (models.Reply, error) {
		return models.Reply{Text: text, Topic: topic}, nil
	}}
}

func fixedClock() time.Time {
	return time.Date(2024, 7, 1, 13, 5, 0, 0, time.UTC)
}

func TestSubmitMatchedTopicScenario(t *testing.T) {
	history := &mockHistory{}
	renderer := newRenderer()
	answerer := reply("We offer B.E. programs.", "admissions")
	suggestions := &mockSuggestions{labels: []string{"Library", "CS HoD", "Hostel", "Placements"}}

	e := engine.New(history, renderer, answerer,
		engine.WithSuggestions(suggestions),
		engine.WithClock(fixedClock))

	if err := e.Submit(context.Background(), "admissions"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := history.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("history len = %d, want 2", len(msgs))
	}
	if msgs[0].Sender != models.SenderUser || msgs[0].Content != "admissions" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Sender != models.SenderBot || msgs[1].Content != "We offer B.E. programs." {
		t.Errorf("bot message = %+v", msgs[1])
	}
	if msgs[0].Seq >= msgs[1].Seq {
		t.Errorf("seq not increasing: %d, %d", msgs[0].Seq, msgs[1].Seq)
	}

	var chips []models.SuggestionChip
	select {
	case chips = <-renderer.suggestions:
	case <-time.After(2 * time.Second):
		t.Fatal("suggestions were not rendered")
	}

	if got := suggestions.requested(); !slices.Equal(got, []string{"admissions"}) {
		t.Errorf("suggestion topics = %v, want [admissions]", got)
	}
	want := []models.SuggestionChip{
		{Label: "Library", Topic: "library"},
		{Label: "CS HoD", Topic: "hod_cs"},
		{Label: "Hostel", Topic: "hostel"},
	}
	if !slices.Equal(chips, want) {
		t.Errorf("chips = %+v, want %+v", chips, want)
	}

	wantEvents := []string{
		"message:user:admissions",
		"indicator",
		"input:false",
		"remove",
		"input:true",
		"message:bot:We offer B.E. programs.",
		"suggestions:3",
	}
	if got := renderer.eventLog(); !slices.Equal(got, wantEvents) {
		t.Errorf("events = %v, want %v", got, wantEvents)
	}

	if e.State() != engine.StateIdle {
		t.Errorf("State() = %v, want idle", e.State())
	}
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	history := &mockHistory{}
	renderer := newRenderer()
	answerer := reply("unused", "")
	e := engine.New(history, renderer, answerer)

	for _, in := range []string{"", "   ", "\n\t"} {
		if err := e.Submit(context.Background(), in); !errors.Is(err, engine.ErrEmptyInput) {
			t.Errorf("Submit(%q) error = %v, want ErrEmptyInput", in, err)
		}
	}
	if err := e.SelectTopic(context.Background(), " "); !errors.Is(err, engine.ErrEmptyInput) {
		t.Errorf("SelectTopic(blank) error = %v, want ErrEmptyInput", err)
	}

	if len(history.snapshot()) != 0 || len(renderer.eventLog()) != 0 || len(answerer.calls()) != 0 {
		t.Error("rejected submissions must have no side effects")
	}
}

func TestSubmitBusyGuard(t *testing.T) {
	history := &mockHistory{}
	renderer := newRenderer()

	started := make(chan struct{})
	release := make(chan struct{})
	answerer := &mockAnswerer{ask: func(context.Context, string) (models.Reply, error) {
		close(started)
		<-release
		return models.Reply{Text: "Library is open 9-5."}, nil
	}}

	e := engine.New(history, renderer, answerer)

	done := make(chan error, 1)
	go func() {
		done <- e.Submit(context.Background(), "library")
	}()

	<-started
	if e.State() != engine.StateAwaitingResponse {
		t.Errorf("State() = %v, want awaiting_response", e.State())
	}
	if err := e.Submit(context.Background(), "hostel"); !errors.Is(err, engine.ErrBusy) {
		t.Errorf("second Submit() error = %v, want ErrBusy", err)
	}
	if err := e.Reset(); !errors.Is(err, engine.ErrBusy) {
		t.Errorf("Reset() while busy error = %v, want ErrBusy", err)
	}

	msgs := history.snapshot()
	if len(msgs) != 1 || msgs[0].Content != "library" {
		t.Errorf("history while awaiting = %+v, want only the first user message", msgs)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	if calls := answerer.calls(); !slices.Equal(calls, []string{"library"}) {
		t.Errorf("answerer calls = %v, want [library]", calls)
	}
	if got := len(history.snapshot()); got != 2 {
		t.Errorf("history len = %d, want 2", got)
	}
	if renderer.indicatorCount() != 1 {
		t.Errorf("indicators = %d, want 1", renderer.indicatorCount())
	}
}

func TestSubmitFallbackOnFailure(t *testing.T) {
	history := &mockHistory{}
	renderer := newRenderer()

	fail := true
	answerer := &mockAnswerer{ask: func(context.Context, string) (models.Reply, error) {
		if fail {
			return models.Reply{}, errors.New("connection refused")
		}
		return models.Reply{Text: "Hostel curfew is 9 PM."}, nil
	}}

	e := engine.New(history, renderer, answerer)

	if err := e.Submit(context.Background(), "hostel"); err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	msgs := history.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("history len = %d, want 2", len(msgs))
	}
	if msgs[1].Sender != models.SenderBot || msgs[1].Content != engine.DefaultFallback {
		t.Errorf("fallback message = %+v", msgs[1])
	}
	if e.State() != engine.StateIdle {
		t.Errorf("State() = %v, want idle", e.State())
	}

	fail = false
	if err := e.Submit(context.Background(), "hostel"); err != nil {
		t.Fatalf("next Submit() error = %v", err)
	}
	if got := history.snapshot(); len(got) != 4 || got[3].Content != "Hostel curfew is 9 PM." {
		t.Errorf("history after retry = %+v", got)
	}
}

func TestSubmitCustomFallback(t *testing.T) {
	history := &mockHistory{}
	answerer := &mockAnswerer{ask: func(context.Context, string) (models.Reply, error) {
		return models.Reply{}, errors.New("status 500")
	}}
	e := engine.New(history, newRenderer(), answerer, engine.WithFallback("Please try again later."))

	if err := e.Submit(context.Background(), "fees"); err != nil {
		t.Fatal(err)
	}
	if got := history.snapshot()[1].Content; got != "Please try again later." {
		t.Errorf("fallback = %q", got)
	}
}

func TestSubmitHistoryOrder(t *testing.T) {
	history := &mockHistory{}
	answerer := &mockAnswerer{ask: func(_ context.Context, text string) (models.Reply, error) {
		return models.Reply{Text: "answer to " + text}, nil
	}}
	e := engine.New(history, newRenderer(), answerer)

	const n = 5
	for i := range n {
		if err := e.Submit(context.Background(), fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	msgs := history.snapshot()
	if len(msgs) != 2*n {
		t.Fatalf("history len = %d, want %d", len(msgs), 2*n)
	}
	for i := range n {
		q, a := msgs[2*i], msgs[2*i+1]
		if q.Sender != models.SenderUser || q.Content != fmt.Sprintf("question %d", i) {
			t.Errorf("message %d = %+v", 2*i, q)
		}
		if a.Sender != models.SenderBot || a.Content != fmt.Sprintf("answer to question %d", i) {
			t.Errorf("message %d = %+v", 2*i+1, a)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq <= msgs[i-1].Seq {
			t.Errorf("seq %d (%d) not after %d", i, msgs[i].Seq, msgs[i-1].Seq)
		}
	}
}

func TestSelectTopic(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		wantDisplay string
		wantQuery   string
	}{
		{"catalog topic", "hod_cs", "CS HoD", "cs hod"},
		{"plain topic", "library", "Library", "library"},
		{"unknown key", "canteen", "canteen", "canteen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &mockHistory{}
			answerer := reply("ok", "")
			e := engine.New(history, newRenderer(), answerer)

			if err := e.SelectTopic(context.Background(), tt.key); err != nil {
				t.Fatal(err)
			}
			if got := history.snapshot()[0].Content; got != tt.wantDisplay {
				t.Errorf("user message = %q, want %q", got, tt.wantDisplay)
			}
			if got := answerer.calls(); !slices.Equal(got, []string{tt.wantQuery}) {
				t.Errorf("query = %v, want %q", got, tt.wantQuery)
			}
		})
	}
}

func TestActivate(t *testing.T) {
	history := &mockHistory{}
	answerer := reply("ok", "")
	e := engine.New(history, newRenderer(), answerer)

	if err := e.Activate(context.Background(), models.SuggestionChip{Label: "CS HoD", Topic: "hod_cs"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Activate(context.Background(), models.SuggestionChip{Label: "Bus timings"}); err != nil {
		t.Fatal(err)
	}

	if got := answerer.calls(); !slices.Equal(got, []string{"cs hod", "Bus timings"}) {
		t.Errorf("queries = %v", got)
	}
}

func TestSuggestionsFailureIsSilent(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		err    error
	}{
		{"fetch error", nil, errors.New("404")},
		{"empty result", nil, nil},
		{"blank labels", []string{" ", ""}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &mockHistory{}
			renderer := newRenderer()
			suggestions := &mockSuggestions{labels: tt.labels, err: tt.err}
			e := engine.New(history, renderer, reply("Placement rate 90%", "placements"),
				engine.WithSuggestions(suggestions))

			if err := e.Submit(context.Background(), "placements"); err != nil {
				t.Fatal(err)
			}
			if err := e.Close(context.Background()); err != nil {
				t.Fatal(err)
			}

			if got := suggestions.requested(); len(got) != 1 {
				t.Errorf("suggestion requests = %v, want 1", got)
			}
			if n := renderer.chipRows(); n != 0 {
				t.Errorf("suggestion rows = %d, want 0", n)
			}
			if got := len(history.snapshot()); got != 2 {
				t.Errorf("history len = %d, want 2", got)
			}
		})
	}
}

func TestNoSuggestionsWithoutTopic(t *testing.T) {
	suggestions := &mockSuggestions{labels: []string{"Library"}}
	e := engine.New(&mockHistory{}, newRenderer(), reply("Hello!", ""), engine.WithSuggestions(suggestions))

	if err := e.Submit(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := suggestions.requested(); len(got) != 0 {
		t.Errorf("suggestion requests = %v, want none", got)
	}
}

func TestMaxSuggestions(t *testing.T) {
	renderer := newRenderer()
	suggestions := &mockSuggestions{labels: []string{"a", "b", "c", "d"}}
	e := engine.New(&mockHistory{}, renderer, reply("x", "library"),
		engine.WithSuggestions(suggestions),
		engine.WithMaxSuggestions(2))

	if err := e.Submit(context.Background(), "library"); err != nil {
		t.Fatal(err)
	}

	select {
	case chips := <-renderer.suggestions:
		if len(chips) != 2 {
			t.Errorf("chips = %d, want 2", len(chips))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suggestions were not rendered")
	}
}

func TestQueryTimeout(t *testing.T) {
	history := &mockHistory{}
	answerer := &mockAnswerer{ask: func(ctx context.Context, _ string) (models.Reply, error) {
		<-ctx.Done()
		return models.Reply{}, ctx.Err()
	}}
	e := engine.New(history, newRenderer(), answerer, engine.WithQueryTimeout(20*time.Millisecond))

	if err := e.Submit(context.Background(), "events"); err != nil {
		t.Fatal(err)
	}
	msgs := history.snapshot()
	if len(msgs) != 2 || msgs[1].Content != engine.DefaultFallback {
		t.Errorf("history = %+v, want fallback reply", msgs)
	}
}

func TestSeqContinuesAfterReload(t *testing.T) {
	stored := []models.Message{
		models.NewMessage(3, models.SenderUser, "old question", fixedClock()),
		models.NewMessage(4, models.SenderBot, "old answer", fixedClock()),
	}
	history := &mockHistory{loaded: stored}
	renderer := newRenderer()
	e := engine.New(history, renderer, reply("new answer", ""))

	if history.loads != 1 {
		t.Errorf("loads = %d, want 1", history.loads)
	}

	e.Replay()
	if got := renderer.eventLog(); !slices.Equal(got, []string{"message:user:old question", "message:bot:old answer"}) {
		t.Errorf("replay events = %v", got)
	}

	if err := e.Submit(context.Background(), "new question"); err != nil {
		t.Fatal(err)
	}
	msgs := e.Messages()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[2].Seq != 5 || msgs[3].Seq != 6 {
		t.Errorf("new seqs = %d, %d, want 5, 6", msgs[2].Seq, msgs[3].Seq)
	}
}

func TestReset(t *testing.T) {
	history := &mockHistory{}
	renderer := newRenderer()
	e := engine.New(history, renderer, reply("ok", ""))

	if err := e.Submit(context.Background(), "library"); err != nil {
		t.Fatal(err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if got := history.snapshot(); len(got) != 0 {
		t.Errorf("history after reset = %+v", got)
	}
	log := renderer.eventLog()
	if log[len(log)-1] != "clear" {
		t.Errorf("last event = %q, want clear", log[len(log)-1])
	}
}

func (m *mockHistory) Load() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads++
	m.messages = slices.Clone(m.loaded)
	return slices.Clone(m.messages)
}

func (m *mockHistory) Append(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
}

func (m *mockHistory) Messages() []models.Message {
	return m.snapshot()
}

func (m *mockHistory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = nil
}

func (m *mockHistory) snapshot() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.messages)
}

func (m *mockRenderer) RenderMessage(msg models.Message, _ []format.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
	m.events = append(m.events, fmt.Sprintf("message:%s:%s", msg.Sender, msg.Content))
}

func (m *mockRenderer) RenderIndicator() render.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.indicators++
	m.events = append(m.events, "indicator")
	return render.Handle{}
}

func (m *mockRenderer) RemoveIndicator(render.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, "remove")
}

func (m *mockRenderer) RenderSuggestions(chips []models.SuggestionChip) {
	m.mu.Lock()
	m.chips = append(m.chips, chips)
	m.events = append(m.events, fmt.Sprintf("suggestions:%d", len(chips)))
	m.mu.Unlock()

	m.suggestions <- chips
}

func (m *mockRenderer) SetInputEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, fmt.Sprintf("input:%t", enabled))
}

func (m *mockRenderer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, "clear")
}

func (m *mockRenderer) eventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.events)
}

func (m *mockRenderer) indicatorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.indicators
}

func (m *mockRenderer) chipRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.chips)
}

func (m *mockAnswerer) Ask(ctx context.Context, text string) (models.Reply, error) {
	m.mu.Lock()
	m.queries = append(m.queries, text)
	m.mu.Unlock()

	return m.ask(ctx, text)
}

func (m *mockAnswerer) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.queries)
}

func (m *mockSuggestions) Suggestions(_ context.Context, topic string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics = append(m.topics, topic)
	return m.labels, m.err
}

func (m *mockSuggestions) requested() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.topics)
}
