package activity

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(capacity int) *Log {
	return New(capacity, log.New(io.Discard))
}

func TestNewDefaults(t *testing.T) {
	l := New(0, nil)
	assert.Len(t, l.buf, DefaultRetention)
	assert.NotNil(t, l.logger)
	assert.Empty(t, l.Recent(0))
}

func TestLevels(t *testing.T) {
	l := newTestLog(10)
	l.Info("registered", "node", "n1")
	l.Warn("no nodes online")
	l.Error("push failed", "node", "n2", "chunk", "c1")

	entries := l.Recent(0)
	require.Len(t, entries, 3)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "registered node=n1", entries[0].Message)
	assert.Equal(t, LevelWarn, entries[1].Level)
	assert.Equal(t, "no nodes online", entries[1].Message)
	assert.Equal(t, LevelError, entries[2].Level)
	assert.Equal(t, "push failed node=n2 chunk=c1", entries[2].Message)
}

func TestRingEvictsOldest(t *testing.T) {
	l := newTestLog(100)
	for i := 0; i < 130; i++ {
		l.Info(fmt.Sprintf("entry %d", i))
	}

	assert.Len(t, l.Recent(0), 100)

	all := l.Recent(0)
	require.Len(t, all, 100)
	assert.Equal(t, "entry 30", all[0].Message)
	assert.Equal(t, "entry 129", all[99].Message)

	recent := l.Recent(50)
	require.Len(t, recent, 50)
	assert.Equal(t, "entry 80", recent[0].Message)
	assert.Equal(t, "entry 129", recent[49].Message)
}

func TestRecentMoreThanRetained(t *testing.T) {
	l := newTestLog(5)
	l.Info("a")
	l.Info("b")
	got := l.Recent(50)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Message)
}

func TestTimestampsUseClock(t *testing.T) {
	l := newTestLog(5)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	l.Info("tick")
	assert.Equal(t, fixed, l.Recent(1)[0].Timestamp)
}

func TestSubscribe(t *testing.T) {
	l := newTestLog(5)
	l.Info("before")
	backlog, ch, cancel := l.SubscribeWithBacklog(10, 4)
	require.Len(t, backlog, 1)
	assert.Equal(t, "before", backlog[0].Message)

	l.Info("hello", "k", 1)
	select {
	case e := <-ch:
		assert.Equal(t, "hello k=1", e.Message)
	case <-time.After(time.Second):
		t.Fatal("expected entry on subscription")
	}

	cancel()
	cancel() // idempotent
	_, open := <-ch
	assert.False(t, open)

	// no panic writing after unsubscribe
	l.Info("after")
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	l := newTestLog(5)
	_, _, cancel := l.SubscribeWithBacklog(0, 0)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Info("one")
		l.Info("two")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer blocked on slow subscriber")
	}
}

// TestSubscribeWithBacklogSeam subscribes while a writer is active and checks
// the backlog and the stream join without gaps or repeats.
func TestSubscribeWithBacklogSeam(t *testing.T) {
	const total = 200
	l := newTestLog(total)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			if i == total/4 {
				close(started)
			}
			l.Info("seq", "i", i)
		}
	}()

	<-started
	backlog, ch, cancel := l.SubscribeWithBacklog(0, total)
	<-done
	cancel()

	var got []string
	for _, e := range backlog {
		got = append(got, e.Message)
	}
	for e := range ch {
		got = append(got, e.Message)
	}
	require.Len(t, got, total)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("seq i=%d", i), msg)
	}
}

func TestConcurrentWrites(t *testing.T) {
	l := newTestLog(100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Info("w", "g", i, "j", j)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, l.Recent(0), 100)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{10 * 1024 * 1024, "10 MiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
		{-2048, "-2.0 KiB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBytes(tt.in))
		})
	}
}
