package logbuf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndSnapshotOrdering(t *testing.T) {
	b := NewBuffer()
	b.Append(1, "out", "A")
	b.Append(1, "err", "B")
	b.Append(2, "out", "C")

	all := b.Snapshot(0, "", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].Line)
	assert.Equal(t, "B", all[1].Line)
	assert.Equal(t, "C", all[2].Line)

	job1 := b.Snapshot(1, "", 0)
	require.Len(t, job1, 2)

	job1Out := b.Snapshot(1, "out", 0)
	require.Len(t, job1Out, 1)
	assert.Equal(t, "A", job1Out[0].Line)
}

func TestSequenceNumbersStrictlyIncreasingPerJob(t *testing.T) {
	b := NewBuffer()
	e1 := b.Append(1, "out", "one")
	e2 := b.Append(1, "out", "two")
	e3 := b.Append(2, "out", "other job")

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, uint64(1), e3.Seq, "sequence numbers are per-job")
}

func TestEvictionByByteBudget(t *testing.T) {
	b := NewBufferWithLimits(10, 1000)
	b.Append(1, "out", "aaaaa") // 5 bytes
	b.Append(1, "out", "bbbbb") // 5 bytes, total 10
	b.Append(1, "out", "ccccc") // 5 bytes, forces eviction of oldest

	all := b.Snapshot(0, "", 0)
	require.Len(t, all, 2)
	assert.Equal(t, "bbbbb", all[0].Line)
	assert.Equal(t, "ccccc", all[1].Line)
}

func TestEvictionByPerJobLineCap(t *testing.T) {
	b := NewBufferWithLimits(1<<20, 2)
	b.Append(1, "out", "1")
	b.Append(1, "out", "2")
	b.Append(1, "out", "3")

	job1 := b.Snapshot(1, "", 0)
	require.Len(t, job1, 2)
	assert.Equal(t, "2", job1[0].Line)
	assert.Equal(t, "3", job1[1].Line)
}

func TestSubscribeDeliversFutureEntries(t *testing.T) {
	b := NewBuffer()
	sub := b.Subscribe(1, "")
	defer sub.Cancel()

	b.Append(1, "out", "hi")
	b.Append(2, "out", "other job, not delivered")

	select {
	case e := <-sub.C:
		assert.Equal(t, "hi", e.Line)
	case <-time.After(time.Second):
		t.Fatal("expected entry on subscription channel")
	}

	select {
	case e := <-sub.C:
		t.Fatalf("unexpected entry for unsubscribed job: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelReleasesSubscription(t *testing.T) {
	b := NewBuffer()
	sub := b.Subscribe(0, "")
	assert.Equal(t, 1, b.SubscriberCount())

	sub.Cancel()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestLongLineIsTruncatedAtHardCap(t *testing.T) {
	b := NewBuffer()
	huge := make([]byte, MaxLineBytes+500)
	for i := range huge {
		huge[i] = 'x'
	}
	b.Append(1, "out", string(huge))

	got := b.Snapshot(1, "", 0)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Line, MaxLineBytes)
}
