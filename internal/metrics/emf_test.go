package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/fpang/photobooth/internal/booth"
)

func decodeDoc(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}
	return doc
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "retrieval-lambda"
	defer func() { functionName = "" }()

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("expected namespace TestNamespace, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "retrieval-lambda" {
		t.Errorf("expected FunctionName dimension retrieval-lambda, got %s", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	functionName = ""
	var buf bytes.Buffer

	rec := New(Namespace).Output(&buf)
	rec.Dimension("Outcome", "success")
	rec.Metric("SessionDurationMs", 1234.5, UnitMilliseconds)
	rec.Metric("Sessions", 1, UnitCount)
	rec.Property("sessionId", "abc-123")
	rec.Flush()

	doc := decodeDoc(t, &buf)

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}
	defs := cw["Metrics"].([]interface{})
	if first := defs[0].(map[string]interface{}); first["Name"] != "SessionDurationMs" {
		t.Errorf("expected metric definitions sorted by name, got %v", defs)
	}

	if doc["Outcome"] != "success" {
		t.Errorf("expected Outcome=success, got %v", doc["Outcome"])
	}
	if doc["SessionDurationMs"] != 1234.5 {
		t.Errorf("expected SessionDurationMs=1234.5, got %v", doc["SessionDurationMs"])
	}
	if doc["Sessions"] != float64(1) {
		t.Errorf("expected Sessions=1, got %v", doc["Sessions"])
	}
	if doc["sessionId"] != "abc-123" {
		t.Errorf("expected sessionId=abc-123, got %v", doc["sessionId"])
	}
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Errorf("expected a single line, got %q", buf.String())
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	New("Test").Output(&buf).Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Chaining(t *testing.T) {
	functionName = ""
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != float64(100) {
		t.Error("chaining Metric failed")
	}
	if m, ok := rec.metrics["Calls"]; !ok || m.Unit != UnitCount || rec.values["Calls"] != float64(1) {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}

func TestSessionMetrics_Observe(t *testing.T) {
	functionName = ""
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return started.Add(42 * time.Second) }

	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		SessionMetrics{Out: &buf, Now: now}.Observe(booth.Transition{
			From: booth.StateUploading,
			To:   booth.StateSuccess,
			Path: []booth.State{booth.StateSuccess},
			Snapshot: booth.Snapshot{
				SessionID:       "s-1",
				State:           booth.StateSuccess,
				ImageCount:      3,
				UploadRetries:   1,
				SelectedFrameID: "classic-vertical",
				ResultID:        "strip-1",
				StartedAt:       started,
				Artifact:        make([]byte, 2048),
			},
		})

		doc := decodeDoc(t, &buf)
		if doc["Outcome"] != "success" {
			t.Errorf("expected Outcome=success, got %v", doc["Outcome"])
		}
		if doc["SessionDurationMs"] != float64(42000) {
			t.Errorf("expected SessionDurationMs=42000, got %v", doc["SessionDurationMs"])
		}
		if doc["StripBytes"] != float64(2048) {
			t.Errorf("expected StripBytes=2048, got %v", doc["StripBytes"])
		}
		if doc["UploadRetries"] != float64(1) {
			t.Errorf("expected UploadRetries=1, got %v", doc["UploadRetries"])
		}
		if doc["resultId"] != "strip-1" {
			t.Errorf("expected resultId=strip-1, got %v", doc["resultId"])
		}
		if _, ok := doc["error"]; ok {
			t.Error("success document should not carry an error")
		}
	})

	t.Run("failure", func(t *testing.T) {
		var buf bytes.Buffer
		SessionMetrics{Out: &buf, Now: now}.Observe(booth.Transition{
			From: booth.StateCapture,
			To:   booth.StateFailure,
			Path: []booth.State{booth.StateFailure},
			Snapshot: booth.Snapshot{
				SessionID: "s-2",
				State:     booth.StateFailure,
				Error:     "permission denied",
				StartedAt: started,
			},
		})

		doc := decodeDoc(t, &buf)
		if doc["Outcome"] != "failure" {
			t.Errorf("expected Outcome=failure, got %v", doc["Outcome"])
		}
		if doc["error"] != "permission denied" || doc["failedIn"] != "capture" {
			t.Errorf("unexpected failure properties: %v", doc)
		}
		if _, ok := doc["StripBytes"]; ok {
			t.Error("failure without artifact should not report StripBytes")
		}
	})

	t.Run("ignores unfinished transitions", func(t *testing.T) {
		var buf bytes.Buffer
		m := SessionMetrics{Out: &buf, Now: now}
		m.Observe(booth.Transition{To: booth.StateCountdown, Path: []booth.State{booth.StateCountdown},
			Snapshot: booth.Snapshot{State: booth.StateCountdown}})
		m.Observe(booth.Transition{To: booth.StateSuccess, Snapshot: booth.Snapshot{State: booth.StateSuccess}})
		if buf.Len() != 0 {
			t.Errorf("expected no output, got %s", buf.String())
		}
	})
}
