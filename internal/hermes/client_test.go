package hermes

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestEncode(t *testing.T) {
	evt := CoefficientsReplacedEvent{Version: 3, Rows: 12, Timestamp: time.Unix(1700000000, 0).UTC()}
	msg, err := encode(SubjectCoefficientsReplaced, evt, "railkpi-test")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.Subject != SubjectCoefficientsReplaced {
		t.Errorf("subject = %q", msg.Subject)
	}
	if got := msg.Header.Get(HeaderSource); got != "railkpi-test" {
		t.Errorf("source = %q", got)
	}

	var decoded CoefficientsReplacedEvent
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Version != 3 || decoded.Rows != 12 {
		t.Errorf("event = %+v", decoded)
	}

	again, _ := encode(SubjectCoefficientsReplaced, evt, "")
	if again.Header.Get(HeaderSource) != "" {
		t.Error("empty source must not set the header")
	}
}

func TestMessageIDIsStablePerEvent(t *testing.T) {
	run := CalibrationEvent{RunID: "5b1f0c1e-7d2a-4c57-9a55-0d0e2b7f3c11", RailType: "high_speed", KPI: "TV", Outcome: "succeeded"}
	other := run
	other.RunID = "9c3e6a20-1f44-4b8e-8d0b-6b7a1e2c4d55"

	id := func(subject string, data interface{}) string {
		t.Helper()
		msg, err := encode(subject, data, "")
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return msg.Header.Get(nats.MsgIdHdr)
	}

	subject := SubjectCalibrationCompleted(run.RailType, run.KPI)
	if got := id(subject, run); got != "calibration."+run.RunID+".high_speed.TV" {
		t.Errorf("run id = %q", got)
	}
	if id(subject, run) != id(subject, run) {
		t.Error("republishing the same run must reuse its message id")
	}
	if id(subject, run) == id(subject, other) {
		t.Error("different runs must not share a message id")
	}

	unrecorded := run
	unrecorded.RunID = nilRunID
	a := unrecorded
	a.Timestamp = time.Unix(1700000000, 0)
	b := unrecorded
	b.Timestamp = time.Unix(1700000001, 0)
	if id(subject, a) == id(subject, b) {
		t.Error("runs without an id fall back to a payload id")
	}
	if id(subject, a) != id(subject, a) {
		t.Error("payload id must be deterministic")
	}

	batch := BatchCompletedEvent{Jobs: 2, Succeeded: 1, Failed: 1}
	if id(SubjectCalibrationBatch, batch) != id(SubjectCalibrationBatch, batch) {
		t.Error("payload id must be deterministic")
	}
	if id(SubjectCalibrationBatch, batch) == id(SubjectCoefficientsRestored, batch) {
		t.Error("subject is part of the payload id")
	}
}

func TestPublishWhileDisconnectedReturnsImmediately(t *testing.T) {
	c := &NATSClient{conn: &nats.Conn{}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	start := time.Now()
	err := c.Publish(SubjectCoefficientsReplaced, CoefficientsReplacedEvent{Version: 1})
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("publish blocked for %v", elapsed)
	}
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	if _, err := encode("railkpi.x", math.Inf(1), ""); err == nil {
		t.Fatal("expected marshal error for +Inf")
	}
}
