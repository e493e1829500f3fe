package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const commsPublisherTestPrefix = "events:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server on a random port.
func startTestServer(t *testing.T) *comms.Conn {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", commsPublisherTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", commsPublisherTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", commsPublisherTestPrefix, err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func subscribeEvents(t *testing.T, nc *comms.Conn, subject string) chan *DispatchedEvent {
	t.Helper()
	received := make(chan *DispatchedEvent, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event DispatchedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("%s - failed to unmarshal: %v", commsPublisherTestPrefix, err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", commsPublisherTestPrefix, err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return received
}

func waitEvent(t *testing.T, ch chan *DispatchedEvent, what string) *DispatchedEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for %s event", commsPublisherTestPrefix, what)
		return nil
	}
}

func TestCommsPublisher_GlobalSubject(t *testing.T) {
	nc := startTestServer(t)
	publisher := NewCommsPublisher(nc, nil)
	global := subscribeEvents(t, nc, "apprunner.dispatched")

	event := &DispatchedEvent{
		ID:         "evt-1",
		RequestID:  "req-1",
		Script:     "blog",
		Version:    "2.1.3",
		Args:       []string{"post", "7"},
		Outcome:    OutcomeResponse,
		Status:     200,
		DurationMs: 12,
		Timestamp:  "2026-01-01T00:00:00Z",
	}
	if err := publisher.PublishDispatched(context.Background(), event); err != nil {
		t.Fatalf("%s - PublishDispatched failed: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	got := waitEvent(t, global, "global")
	if got.ID != "evt-1" || got.Script != "blog" || got.Version != "2.1.3" || len(got.Args) != 2 {
		t.Errorf("%s - unexpected event %+v", commsPublisherTestPrefix, got)
	}
}

func TestCommsPublisher_PerScriptSubject(t *testing.T) {
	nc := startTestServer(t)
	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Subject: "site.dispatched", PerScript: true})
	global := subscribeEvents(t, nc, "site.dispatched")
	perScript := subscribeEvents(t, nc, "site.dispatched.admin_users")

	event := &DispatchedEvent{ID: "evt-2", Script: "admin.users", Outcome: OutcomeError, Status: 404, ErrorCode: "UNKNOWN_CONTROLLER"}
	if err := publisher.PublishDispatched(context.Background(), event); err != nil {
		t.Fatalf("%s - PublishDispatched failed: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	waitEvent(t, global, "global")
	got := waitEvent(t, perScript, "per-script")
	if got.ErrorCode != "UNKNOWN_CONTROLLER" {
		t.Errorf("%s - ErrorCode = %q", commsPublisherTestPrefix, got.ErrorCode)
	}
}

func TestNewCommsPublisher_Defaults(t *testing.T) {
	nc := startTestServer(t)

	for _, opts := range []*CommsPublisherOpts{nil, {Subject: ""}} {
		publisher := NewCommsPublisher(nc, opts)
		if publisher.subject != "apprunner.dispatched" || publisher.perScript {
			t.Errorf("%s - unexpected defaults %q %v", commsPublisherTestPrefix, publisher.subject, publisher.perScript)
		}
	}
}

func TestCommsPublisher_ClosedConnection(t *testing.T) {
	nc := startTestServer(t)
	publisher := NewCommsPublisher(nc, nil)
	nc.Close()

	if err := publisher.PublishDispatched(context.Background(), &DispatchedEvent{Script: "blog"}); err == nil {
		t.Errorf("%s - expected error on closed connection", commsPublisherTestPrefix)
	}
}
