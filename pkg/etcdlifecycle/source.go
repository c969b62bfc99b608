package etcdlifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope is the lifecycle-event wire shape consumed by cmd/clusterkeeper
// (spec.md §6): `{detail: {EC2InstanceId, LifecycleHookName,
// AutoScalingGroupName, LifecycleActionToken}}`.
type Envelope struct {
	Detail struct {
		EC2InstanceId        string `json:"EC2InstanceId"`
		LifecycleHookName    string `json:"LifecycleHookName"`
		AutoScalingGroupName string `json:"AutoScalingGroupName"`
		LifecycleActionToken string `json:"LifecycleActionToken"`
	} `json:"detail"`
}

// ToEvent converts the wire envelope into the Handler's Event type.
func (e Envelope) ToEvent() Event {
	return Event{
		InstanceID:  e.Detail.EC2InstanceId,
		HookName:    e.Detail.LifecycleHookName,
		GroupName:   e.Detail.AutoScalingGroupName,
		ActionToken: e.Detail.LifecycleActionToken,
	}
}

// QueuedEvent pairs a decoded Event with the acknowledgement its source
// queue requires once Handle has returned.
type QueuedEvent struct {
	Event Event
	Ack   func(ctx context.Context) error
}

// QueuePoller is the seam a live lifecycle-event queue (EventBridge ->
// SQS is the standard ASG wiring) plugs into. None is shipped here — no
// queue SDK is wired beyond what pkg/remoteexec and pkg/paramstore
// already exercise on SSM — so the only built-in source is
// ConsumeNDJSON; a deployment that needs a live queue supplies its own
// QueuePoller implementation.
type QueuePoller interface {
	Poll(ctx context.Context) ([]QueuedEvent, error)
}

// ConsumeNDJSON reads newline-delimited JSON envelopes from r until EOF
// or ctx cancellation, invoking handle for each decoded event. A line
// that fails to decode is logged by the caller via the returned error
// and consumption stops — malformed input on this feed is a
// configuration problem, not a transient one.
func ConsumeNDJSON(ctx context.Context, r io.Reader, handle func(context.Context, Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return fmt.Errorf("decoding lifecycle event: %w", err)
		}
		if err := handle(ctx, env.ToEvent()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading lifecycle event stream: %w", err)
	}
	return nil
}

// ConsumePoller calls poller.Poll repeatedly, with no pause between
// polls, until ctx is done, invoking handle for each event and then its
// Ack. It returns the first error from Poll, handle or Ack.
func ConsumePoller(ctx context.Context, poller QueuePoller, handle func(context.Context, Event) error) error {
	for {
		events, err := poller.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polling lifecycle event queue: %w", err)
		}
		for _, qe := range events {
			if err := handle(ctx, qe.Event); err != nil {
				return err
			}
			if qe.Ack != nil {
				if err := qe.Ack(ctx); err != nil {
					return fmt.Errorf("acknowledging lifecycle event: %w", err)
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
