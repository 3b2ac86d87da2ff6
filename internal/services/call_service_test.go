package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_receptionist/internal/types"
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) Publish(kind string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
}

func (p *recordingPublisher) Kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.kinds...)
}

func newCallService(condition types.Condition, runner *fakeRunner, grace time.Duration) (*CallService, *AlertDetector) {
	detector := NewAlertDetector(AlertConfig{Window: time.Minute, Threshold: 3}, nil, nil, nil, nil)
	svc := NewCallService(grace, NewActiveCallRegistry(nil), fakeClassifier{condition: condition}, detector, runner, nil)
	return svc, detector
}

func started(number, callID string) types.CallEvent {
	return types.CallEvent{
		CallID:    callID,
		Caller:    types.Caller{Name: "Caller " + number, Number: number},
		Kind:      types.EventStarted,
		Timestamp: time.Now(),
	}
}

func TestCallService_ConcurrentArrivalsStartOneSession(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	svc, _ := newCallService(types.ConditionSleeping, runner, 0)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Handle(ctx, started("+3333333333", "same-call")) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Eventually(t, func() bool { return runner.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, svc.Registry().Len())

	close(runner.release)
	svc.Wait()
	assert.Equal(t, 1, runner.Calls())
	assert.Equal(t, 0, svc.Registry().Len())
}

func TestCallService_ActiveOwnerSkipsSessionAndReleasesImmediately(t *testing.T) {
	runner := &fakeRunner{}
	svc, detector := newCallService(types.ConditionActive, runner, time.Hour)

	require.True(t, svc.Handle(context.Background(), started("+1111111111", "c1")))
	svc.Wait()

	assert.Equal(t, 0, runner.Calls())
	assert.Equal(t, 1, detector.Count("+1111111111"))
	assert.Equal(t, 0, svc.Registry().Len())
}

func TestCallService_EntryHeldForGraceAfterSession(t *testing.T) {
	runner := &fakeRunner{}
	svc, _ := newCallService(types.ConditionAway, runner, 40*time.Millisecond)
	ctx := context.Background()

	require.True(t, svc.Handle(ctx, started("+2", "c1")))
	svc.Wait()

	assert.False(t, svc.Handle(ctx, started("+2", "c2")))
	assert.Eventually(t, func() bool { return svc.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, svc.Handle(ctx, started("+2", "c3")))
	svc.Wait()
	assert.Equal(t, 2, runner.Calls())
}

func TestCallService_NoLeakOnSessionError(t *testing.T) {
	runner := &fakeRunner{err: errBoom}
	svc, _ := newCallService(types.ConditionBusy, runner, 10*time.Millisecond)

	require.True(t, svc.Handle(context.Background(), started("+4", "c1")))
	svc.Wait()

	assert.Eventually(t, func() bool { return svc.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCallService_NoLeakOnPanic(t *testing.T) {
	runner := &fakeRunner{}
	detector := NewAlertDetector(AlertConfig{Window: time.Minute, Threshold: 3}, nil, nil, nil, nil)
	svc := NewCallService(10*time.Millisecond, NewActiveCallRegistry(nil), fakeClassifier{panicMsg: "camera exploded"}, detector, runner, nil)

	require.True(t, svc.Handle(context.Background(), started("+5", "c1")))
	svc.Wait()

	assert.Equal(t, 0, runner.Calls())
	assert.Eventually(t, func() bool { return svc.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCallService_UnansweredOnlyUpdatesDetector(t *testing.T) {
	runner := &fakeRunner{}
	svc, detector := newCallService(types.ConditionSleeping, runner, 0)

	ev := started("+6", "c1")
	ev.Kind = types.EventUnanswered
	assert.False(t, svc.Handle(context.Background(), ev))
	svc.Wait()

	assert.Equal(t, 0, runner.Calls())
	assert.Equal(t, 0, svc.Registry().Len())
	assert.Equal(t, 1, detector.Count("+6"))
}

func TestCallService_StartedThenUnansweredCountsOnce(t *testing.T) {
	runner := &fakeRunner{}
	svc, detector := newCallService(types.ConditionSleeping, runner, 0)
	ctx := context.Background()

	svc.Handle(ctx, started("+7", "c1"))
	svc.Wait()
	missed := started("+7", "c1")
	missed.Kind = types.EventUnanswered
	svc.Handle(ctx, missed)

	assert.Equal(t, 1, detector.Count("+7"))
}

func TestCallService_RunConsumesUntilChannelClosed(t *testing.T) {
	runner := &fakeRunner{}
	svc, detector := newCallService(types.ConditionAway, runner, 0)
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)

	events := make(chan types.CallEvent, 4)
	events <- started("+8", "c1")
	events <- started("+9", "c2")
	close(events)

	require.NoError(t, svc.Run(context.Background(), events))
	svc.Wait()

	assert.Equal(t, 2, runner.Calls())
	assert.Equal(t, 1, detector.Count("+8"))
	assert.Contains(t, pub.Kinds(), EventCall)
	assert.Contains(t, pub.Kinds(), EventReleased)
}

func TestCallService_RunStopsOnCancel(t *testing.T) {
	svc, _ := newCallService(types.ConditionAway, &fakeRunner{}, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, make(chan types.CallEvent)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
