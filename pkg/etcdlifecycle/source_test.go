package etcdlifecycle_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/pkg/etcdlifecycle"
)

// TestConsumeNDJSONDecodesEachLine covers the stdin-fed deployment shim
// named in SPEC_FULL.md §6: one event per line, envelope shape matching
// the EventBridge -> SQS -> lifecycle-handler wiring.
func TestConsumeNDJSONDecodesEachLine(t *testing.T) {
	input := strings.Join([]string{
		`{"detail":{"EC2InstanceId":"i-A","LifecycleHookName":"terminating","AutoScalingGroupName":"asg-1","LifecycleActionToken":"token-1"}}`,
		``,
		`{"detail":{"EC2InstanceId":"i-B","LifecycleHookName":"terminating","AutoScalingGroupName":"asg-1","LifecycleActionToken":"token-2"}}`,
	}, "\n")

	var got []etcdlifecycle.Event
	err := etcdlifecycle.ConsumeNDJSON(context.Background(), strings.NewReader(input), func(_ context.Context, ev etcdlifecycle.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, etcdlifecycle.Event{InstanceID: "i-A", HookName: "terminating", GroupName: "asg-1", ActionToken: "token-1"}, got[0])
	assert.Equal(t, etcdlifecycle.Event{InstanceID: "i-B", HookName: "terminating", GroupName: "asg-1", ActionToken: "token-2"}, got[1])
}

// TestConsumeNDJSONStopsOnMalformedLine asserts a bad line halts
// consumption rather than skipping silently: malformed input on this
// feed is a configuration problem, not a transient one.
func TestConsumeNDJSONStopsOnMalformedLine(t *testing.T) {
	input := "not json\n"
	var got []etcdlifecycle.Event
	err := etcdlifecycle.ConsumeNDJSON(context.Background(), strings.NewReader(input), func(_ context.Context, ev etcdlifecycle.Event) error {
		got = append(got, ev)
		return nil
	})
	require.Error(t, err)
	assert.Empty(t, got)
}

// TestConsumeNDJSONPropagatesHandlerError asserts a handler failure
// aborts the stream rather than being swallowed.
func TestConsumeNDJSONPropagatesHandlerError(t *testing.T) {
	input := `{"detail":{"EC2InstanceId":"i-A","LifecycleHookName":"terminating","AutoScalingGroupName":"asg-1","LifecycleActionToken":"token-1"}}` + "\n"
	boom := errors.New("handler failed")
	err := etcdlifecycle.ConsumeNDJSON(context.Background(), strings.NewReader(input), func(_ context.Context, ev etcdlifecycle.Event) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

// fakePoller is an in-memory QueuePoller for ConsumePoller tests.
type fakePoller struct {
	batches [][]etcdlifecycle.QueuedEvent
	calls   int
}

func (p *fakePoller) Poll(_ context.Context) ([]etcdlifecycle.QueuedEvent, error) {
	if p.calls >= len(p.batches) {
		return nil, errDone
	}
	b := p.batches[p.calls]
	p.calls++
	return b, nil
}

var errDone = errors.New("no more batches")

// TestConsumePollerAcksEachEvent covers the QueuePoller seam: every
// delivered event is handled and acknowledged before the next poll.
func TestConsumePollerAcksEachEvent(t *testing.T) {
	var acked []string
	poller := &fakePoller{batches: [][]etcdlifecycle.QueuedEvent{
		{
			{
				Event: etcdlifecycle.Event{InstanceID: "i-A"},
				Ack:   func(context.Context) error { acked = append(acked, "i-A"); return nil },
			},
		},
	}}

	var handled []string
	err := etcdlifecycle.ConsumePoller(context.Background(), poller, func(_ context.Context, ev etcdlifecycle.Event) error {
		handled = append(handled, ev.InstanceID)
		return nil
	})
	require.ErrorIs(t, err, errDone)
	assert.Equal(t, []string{"i-A"}, handled)
	assert.Equal(t, []string{"i-A"}, acked)
}
