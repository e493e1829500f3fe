package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/apprunner/pkg/commsutil"
)

const subscribeTestPrefix = "dispatcher:subscribe_test"

func startTestServer(t *testing.T) *comms.Conn {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", subscribeTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", subscribeTestPrefix)
	}

	nc, err := commsutil.Connect(ns.ClientURL(), "dispatcher-test")
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", subscribeTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func request(t *testing.T, nc *comms.Conn, data []byte) *DispatchResponse {
	t.Helper()
	msg, err := nc.Request(commsutil.SubjectDispatch, data, 5*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", subscribeTestPrefix, err)
	}
	var resp DispatchResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("%s - failed to decode response: %v", subscribeTestPrefix, err)
	}
	return &resp
}

func TestSubscribe_RoundTrip(t *testing.T) {
	nc := startTestServer(t)
	d, rec, _ := newTestDispatcher(t, Options{})

	sub, err := d.Subscribe(context.Background(), nc, commsutil.SubjectDispatch)
	if err != nil {
		t.Fatalf("%s - Subscribe failed: %v", subscribeTestPrefix, err)
	}
	defer sub.Unsubscribe()

	data, err := commsutil.EncodePayload(&DispatchRequest{ID: "nats-1", Script: "greeter", Args: []string{"hello", "nats"}})
	if err != nil {
		t.Fatalf("%s - encode failed: %v", subscribeTestPrefix, err)
	}
	resp := request(t, nc, data)
	if !resp.Ok || resp.ID != "nats-1" || resp.Body != "hello nats" {
		t.Errorf("%s - unexpected response %+v", subscribeTestPrefix, resp)
	}
	if e := rec.last(t); e.RequestID != "nats-1" || e.Transport != TransportComms {
		t.Errorf("%s - unexpected event %+v", subscribeTestPrefix, e)
	}
}

func TestSubscribe_InvalidPayload(t *testing.T) {
	nc := startTestServer(t)
	d, _, _ := newTestDispatcher(t, Options{})

	sub, err := d.Subscribe(context.Background(), nc, commsutil.SubjectDispatch)
	if err != nil {
		t.Fatalf("%s - Subscribe failed: %v", subscribeTestPrefix, err)
	}
	defer sub.Unsubscribe()

	resp := request(t, nc, []byte("{not json"))
	if resp.Ok || resp.Status != 400 || resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("%s - expected INVALID_REQUEST, got %+v", subscribeTestPrefix, resp)
	}
}
