package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_receptionist/internal/models"
	"ai_receptionist/internal/types"
)

func next(t *testing.T, events <-chan types.CallEvent) types.CallEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "事件通道已关闭")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("等待事件超时")
	}
	return types.CallEvent{}
}

func TestRingTracker_TimeoutEmitsUnanswered(t *testing.T) {
	events := make(chan types.CallEvent, 4)
	tracker := newRingTracker(20*time.Millisecond, newEmitter(events))
	mom := types.Caller{Name: "Mom", Number: "+1111111111"}
	ctx := context.Background()

	require.True(t, tracker.ring(ctx, "c1", mom))
	assert.False(t, tracker.ring(ctx, "c1", mom))

	assert.Equal(t, types.EventStarted, next(t, events).Kind)
	ev := next(t, events)
	assert.Equal(t, types.EventUnanswered, ev.Kind)
	assert.Equal(t, mom, ev.Caller)
	assert.Equal(t, 0, tracker.pending())
}

func TestRingTracker_AnswerStopsTimer(t *testing.T) {
	events := make(chan types.CallEvent, 4)
	tracker := newRingTracker(30*time.Millisecond, newEmitter(events))
	ctx := context.Background()

	tracker.ring(ctx, "c1", types.Caller{Number: "+2"})
	assert.True(t, tracker.answer(ctx, "c1"))
	assert.False(t, tracker.answer(ctx, "c1"))

	assert.Equal(t, types.EventStarted, next(t, events).Kind)
	assert.Equal(t, types.EventAnswered, next(t, events).Kind)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, events)
}

func TestEmitter_DropsAfterClose(t *testing.T) {
	events := make(chan types.CallEvent, 1)
	em := newEmitter(events)
	em.close()
	em.close()

	assert.False(t, em.emit(context.Background(), "c1", types.Caller{}, types.EventStarted))
}

func TestSimulator_RingsAndAnswers(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{
		Callers:     []types.Caller{{Name: "Mom", Number: "+1"}, {Name: "Dad", Number: "+2"}},
		RingTimeout: time.Hour,
	}, nil)
	sim.wait = func() time.Duration { return time.Millisecond }
	sim.pick = func(int) int { return 1 }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan types.CallEvent)
	go sim.Run(ctx, events)

	ev := next(t, events)
	assert.Equal(t, types.EventStarted, ev.Kind)
	assert.Equal(t, "Dad", ev.Caller.Name)
	assert.NotEmpty(t, ev.CallID)

	go func() { assert.NoError(t, sim.Answer(ev.CallID)) }()
	for {
		answered := next(t, events)
		if answered.Kind == types.EventAnswered {
			assert.Equal(t, ev.CallID, answered.CallID)
			break
		}
	}
	assert.ErrorIs(t, sim.Answer("nope"), ErrUnknownCall)
}

func TestSimulator_NoCallers(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{}, nil)
	events := make(chan types.CallEvent)

	assert.Error(t, sim.Run(context.Background(), events))
	_, ok := <-events
	assert.False(t, ok)
}

func TestManual_InjectAndAnswer(t *testing.T) {
	m := NewManual(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan types.CallEvent, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx, events)
	}()

	boss := types.Caller{Name: "Boss", Number: "+4444444444"}
	callID, err := m.Inject(ctx, "", boss, types.EventStarted)
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	ev := next(t, events)
	assert.Equal(t, types.EventStarted, ev.Kind)
	assert.Equal(t, boss, ev.Caller)

	require.NoError(t, m.Answer(callID))
	assert.Equal(t, types.EventAnswered, next(t, events).Kind)
	assert.ErrorIs(t, m.Answer(callID), ErrUnknownCall)

	_, err = m.Inject(ctx, "missed-1", boss, types.EventUnanswered)
	require.NoError(t, err)
	assert.Equal(t, types.EventUnanswered, next(t, events).Kind)

	cancel()
	<-done
	_, err = m.Inject(context.Background(), "", boss, types.EventStarted)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

type scriptedSource struct {
	events []types.CallEvent
}

func (s scriptedSource) Run(ctx context.Context, out chan<- types.CallEvent) error {
	defer close(out)
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func TestMerge_ClosesWhenAllSourcesFinish(t *testing.T) {
	a := scriptedSource{events: []types.CallEvent{{CallID: "a1"}, {CallID: "a2"}}}
	b := scriptedSource{events: []types.CallEvent{{CallID: "b1"}}}

	out := make(chan types.CallEvent)
	go Merge(context.Background(), out, nil, []models.CallSource{a, b}...)

	var ids []string
	for ev := range out {
		ids = append(ids, ev.CallID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, ids)
}

type answererFunc func(callID string) error

func (f answererFunc) Answer(callID string) error { return f(callID) }

func TestAnswerers_FirstKnownWins(t *testing.T) {
	var tried []string
	unknown := answererFunc(func(string) error {
		tried = append(tried, "unknown")
		return ErrUnknownCall
	})
	known := answererFunc(func(string) error {
		tried = append(tried, "known")
		return nil
	})

	assert.NoError(t, Answerers{unknown, nil, known, unknown}.Answer("c1"))
	assert.Equal(t, []string{"unknown", "known"}, tried)
	assert.ErrorIs(t, Answerers{unknown}.Answer("c1"), ErrUnknownCall)
}
