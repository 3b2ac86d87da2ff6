package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_receptionist/internal/types"
)

func TestResponseStore_PutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "user_profile.json")
	store := NewResponseStore(path, nil)

	_, ok := store.Get("+1111111111", "sleeping")
	assert.False(t, ok)

	require.NoError(t, store.Put("+1111111111", "sleeping", "Hi Mom, he is napping."))
	phrase, ok := store.Get("+1111111111", "sleeping")
	assert.True(t, ok)
	assert.Equal(t, "Hi Mom, he is napping.", phrase)

	// 重新打开后仍然存在
	reopened := NewResponseStore(path, nil)
	phrase, ok = reopened.Get("+1111111111", "sleeping")
	assert.True(t, ok)
	assert.Equal(t, "Hi Mom, he is napping.", phrase)
}

func TestResponseStore_CorruptDocumentIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_profile.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	store := NewResponseStore(path, nil)

	_, ok := store.Get("+1", "busy")
	assert.False(t, ok)

	require.NoError(t, store.Put("+1", "busy", "Call later"))
	phrase, ok := store.Get("+1", "busy")
	assert.True(t, ok)
	assert.Equal(t, "Call later", phrase)
}

func TestResponseStore_ConcurrentWritersKeepAllUpdates(t *testing.T) {
	store := NewResponseStore(filepath.Join(t.TempDir(), "user_profile.json"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := string(rune('a' + i))
			assert.NoError(t, store.Put(caller, "away", "phrase "+caller))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		caller := string(rune('a' + i))
		phrase, ok := store.Get(caller, "away")
		assert.True(t, ok, caller)
		assert.Equal(t, "phrase "+caller, phrase)
	}
}

func TestResponseStore_ReportPhrases(t *testing.T) {
	store := NewResponseStore(filepath.Join(t.TempDir(), "user_profile.json"), nil)

	require.NoError(t, store.LearnReportPhrase("Call me  BACK", "Mom wants a call back"))
	phrase, ok := store.GetReportPhrase("call me back")
	assert.True(t, ok)
	assert.Equal(t, "Mom wants a call back", phrase)

	assert.Equal(t, "call me back", NormalizeMessage("  Call\tme  BACK "))
}

func TestMessageStore_AppendAndList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "messages")
	store := NewMessageStore(dir)
	ctx := context.Background()

	messages, err := store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, messages)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendMessage(ctx, types.Message{
		Caller: types.Caller{Name: "Dad", Number: "+2"}, Text: "second", Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, store.AppendMessage(ctx, types.Message{
		Caller: types.Caller{Name: "Best Friend", Number: "+3"}, Text: "first", Timestamp: base,
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zzz_broken.json"), []byte("{"), 0o644))

	messages, err = store.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
	assert.NotEmpty(t, messages[0].ID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.True(t, strings.Contains(entries[0].Name(), "Best_Friend"))
}

func TestAlertLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "alerts.jsonl")
	log := NewAlertLog(path)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		require.NoError(t, log.AppendAlert(context.Background(), types.Alert{
			Caller: types.Caller{Name: "Mom", Number: "+1"}, Timestamp: at, Type: types.AlertTypeRepeatedCall, Count: 3 + i,
		}))
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var counts []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var alert types.Alert
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &alert))
		assert.Equal(t, types.AlertTypeRepeatedCall, alert.Type)
		counts = append(counts, alert.Count)
	}
	assert.Equal(t, []int{3, 4}, counts)
}

func TestPowerLog_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "power_alerts.log")
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	log := NewPowerLog(path, func() time.Time { return at })

	require.NoError(t, log.Append(context.Background(), "Device battery low. Please check on the owner."))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Wed May  1 09:00:00 2024 | Device battery low. Please check on the owner.\n", string(data))
}
