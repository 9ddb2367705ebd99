//go:build !integration

package model

import (
	"testing"
	"time"
)

// --- ScanJob Lifecycle Tests ---

func newTestJob(now time.Time) *ScanJob {
	return NewScanJob("job-1", FileMeta{FileName: "r.jpg", FileSize: 4, MimeType: "image/jpeg"}, []byte("data"), now)
}

func TestNewScanJob(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j := newTestJob(now)

	if j.Status != ScanStatusQueued {
		t.Fatalf("expected status queued, but got %s", j.Status)
	}
	if j.Attempt != 0 {
		t.Errorf("expected attempt 0, but got %d", j.Attempt)
	}
	if !j.CreatedAt.Equal(now) || !j.UpdatedAt.Equal(now) {
		t.Errorf("expected timestamps to equal %v", now)
	}
	if got := j.Meta(); got.FileName != "r.jpg" || got.FileSize != 4 || got.MimeType != "image/jpeg" {
		t.Errorf("unexpected meta: %+v", got)
	}
}

func TestScanJob_Transitions(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should reach scanned and drop the buffer", func(t *testing.T) {
		j := newTestJob(start)
		j.MarkScanning(1, start.Add(time.Second))
		if j.Status != ScanStatusScanning || j.Attempt != 1 {
			t.Fatalf("expected scanning/1, but got %s/%d", j.Status, j.Attempt)
		}
		j.MarkSuccess([]LineItem{{Name: "Coffee", Price: 3.5}}, start.Add(2*time.Second))
		if j.Status != ScanStatusScanned {
			t.Fatalf("expected scanned, but got %s", j.Status)
		}
		if j.FileBuffer != nil {
			t.Error("expected buffer to be released on success")
		}
		if !j.Status.IsTerminal() {
			t.Error("expected scanned to be terminal")
		}
		if !j.UpdatedAt.Equal(start.Add(2 * time.Second)) {
			t.Errorf("expected updatedAt to advance, got %v", j.UpdatedAt)
		}
	})

	t.Run("should keep an empty result non-nil", func(t *testing.T) {
		j := newTestJob(start)
		j.MarkSuccess(nil, start)
		if j.Result == nil || len(j.Result) != 0 {
			t.Fatalf("expected empty non-nil result, but got %#v", j.Result)
		}
	})

	t.Run("retrying never lowers the attempt", func(t *testing.T) {
		j := newTestJob(start)
		j.MarkScanning(2, start)
		j.MarkRetrying(1, start)
		if j.Status != ScanStatusRetrying || j.Attempt != 2 {
			t.Fatalf("expected retrying/2, but got %s/%d", j.Status, j.Attempt)
		}
		j.MarkRetrying(3, start)
		if j.Attempt != 3 {
			t.Errorf("expected attempt 3, but got %d", j.Attempt)
		}
	})

	t.Run("should reach failed with the error", func(t *testing.T) {
		j := newTestJob(start)
		j.MarkScanning(1, start)
		j.MarkFailed(JobError{Code: "GEMINI_API_ERROR", Message: "down", Retryable: true}, start)
		if j.Status != ScanStatusFailed || j.Error == nil || j.Error.Code != "GEMINI_API_ERROR" {
			t.Fatalf("unexpected failed job: %+v", j)
		}
		if j.FileBuffer != nil || j.Result != nil {
			t.Error("expected buffer and result to be cleared on failure")
		}
	})
}

func TestScanJob_TerminalIsFinal(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	later := start.Add(time.Minute)

	t.Run("scanned job ignores every later transition", func(t *testing.T) {
		j := newTestJob(start)
		if !j.MarkSuccess([]LineItem{{Name: "Soup", Price: 6}}, start) {
			t.Fatal("expected first MarkSuccess to apply")
		}
		if j.MarkFailed(JobError{Code: "SERVER_ERROR"}, later) {
			t.Error("expected MarkFailed on a scanned job to be refused")
		}
		if j.MarkScanning(2, later) || j.MarkRetrying(2, later) || j.MarkSuccess(nil, later) {
			t.Error("expected transitions out of scanned to be refused")
		}
		if j.Status != ScanStatusScanned || j.Error != nil || len(j.Result) != 1 || j.Result[0].Name != "Soup" {
			t.Fatalf("expected scanned job to be unchanged, got %+v", j)
		}
		if !j.UpdatedAt.Equal(start) {
			t.Errorf("expected updatedAt to stay %v, got %v", start, j.UpdatedAt)
		}
	})

	t.Run("failed job keeps its error", func(t *testing.T) {
		j := newTestJob(start)
		j.MarkFailed(JobError{Code: "INVALID_RECEIPT"}, start)
		if j.MarkSuccess([]LineItem{{Name: "X", Price: 1}}, later) {
			t.Error("expected MarkSuccess on a failed job to be refused")
		}
		if j.Status != ScanStatusFailed || j.Error == nil || j.Error.Code != "INVALID_RECEIPT" || j.Result != nil {
			t.Fatalf("expected failed job to be unchanged, got %+v", j)
		}
	})
}

func TestScanJobStatus_IsTerminal(t *testing.T) {
	want := map[ScanJobStatus]bool{
		ScanStatusQueued:   false,
		ScanStatusScanning: false,
		ScanStatusRetrying: false,
		ScanStatusScanned:  true,
		ScanStatusFailed:   true,
	}
	for _, st := range AllScanStatuses {
		if got := st.IsTerminal(); got != want[st] {
			t.Errorf("%s: expected terminal=%v, but got %v", st, want[st], got)
		}
	}
}

func TestScanJob_Clone(t *testing.T) {
	j := newTestJob(time.Now())
	j.MarkSuccess([]LineItem{{Name: "Tea", Price: 2}}, time.Now())

	cp := j.Clone()
	cp.Result[0].Name = "changed"
	cp.Status = ScanStatusFailed
	if j.Result[0].Name != "Tea" || j.Status != ScanStatusScanned {
		t.Fatalf("expected clone mutations not to leak, got %+v", j)
	}

	f := newTestJob(time.Now())
	f.MarkFailed(JobError{Code: "X"}, time.Now())
	fc := f.Clone()
	fc.Error.Code = "Y"
	if f.Error.Code != "X" {
		t.Errorf("expected error to be copied, but original changed to %s", f.Error.Code)
	}
}

func TestScanJob_View(t *testing.T) {
	now := time.Now()

	t.Run("in-flight job exposes neither result nor error", func(t *testing.T) {
		j := newTestJob(now)
		j.MarkScanning(1, now)
		v := j.View()
		if v.ScanJobID != "job-1" || v.Status != ScanStatusScanning || v.Attempt != 1 {
			t.Fatalf("unexpected view: %+v", v)
		}
		if v.Result != nil || v.Error != nil {
			t.Errorf("expected no result or error, got %+v", v)
		}
	})

	t.Run("scanned job exposes a copied result", func(t *testing.T) {
		j := newTestJob(now)
		j.MarkSuccess([]LineItem{{Name: "Bread", Price: 1.25}}, now)
		v := j.View()
		if len(v.Result) != 1 || v.Error != nil {
			t.Fatalf("unexpected view: %+v", v)
		}
		v.Result[0].Price = 99
		if j.Result[0].Price != 1.25 {
			t.Error("expected view result to be a copy")
		}
	})

	t.Run("failed job exposes the error", func(t *testing.T) {
		j := newTestJob(now)
		j.MarkFailed(JobError{Code: "INVALID_RECEIPT", Message: "nothing"}, now)
		v := j.View()
		if v.Error == nil || v.Error.Code != "INVALID_RECEIPT" || v.Result != nil {
			t.Fatalf("unexpected view: %+v", v)
		}
	})
}

func TestJobStats(t *testing.T) {
	s := NewJobStats()
	for _, st := range AllScanStatuses {
		if n, ok := s.ByStatus[st]; !ok || n != 0 {
			t.Fatalf("expected zeroed bucket for %s", st)
		}
	}
	s.Add(ScanStatusQueued)
	s.Add(ScanStatusQueued)
	s.Add(ScanStatusFailed)
	if s.Total != 3 || s.ByStatus[ScanStatusQueued] != 2 || s.ByStatus[ScanStatusFailed] != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestNewScanOutcome(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j := newTestJob(created)
	j.MarkScanning(2, created)
	j.MarkSuccess([]LineItem{{Name: "A", Price: 0.1}, {Name: "B", Price: 0.2}}, created.Add(3*time.Second))

	o := NewScanOutcome(j)
	if o.JobID != "job-1" || o.Status != ScanStatusScanned || o.Attempts != 2 {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if o.ItemCount != 2 || o.TotalPrice != 0.3 {
		t.Errorf("expected 2 items totalling 0.3, got %d / %v", o.ItemCount, o.TotalPrice)
	}
	if !o.FinishedAt.Equal(created.Add(3 * time.Second)) {
		t.Errorf("expected finishedAt from updatedAt, got %v", o.FinishedAt)
	}

	f := newTestJob(created)
	f.MarkFailed(JobError{Code: "GEMINI_TIMEOUT"}, created)
	if got := NewScanOutcome(f).ErrorCode; got != "GEMINI_TIMEOUT" {
		t.Errorf("expected error code GEMINI_TIMEOUT, got %q", got)
	}
}
