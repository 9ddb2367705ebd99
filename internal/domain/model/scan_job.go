package model

import "time"

type ScanJobStatus string

const (
	ScanStatusQueued   ScanJobStatus = "queued"
	ScanStatusScanning ScanJobStatus = "scanning"
	ScanStatusRetrying ScanJobStatus = "retrying"
	ScanStatusScanned  ScanJobStatus = "scanned"
	ScanStatusFailed   ScanJobStatus = "failed"
)

// AllScanStatuses lists the server-side statuses in lifecycle order.
var AllScanStatuses = []ScanJobStatus{
	ScanStatusQueued,
	ScanStatusScanning,
	ScanStatusRetrying,
	ScanStatusScanned,
	ScanStatusFailed,
}

// IsTerminal reports whether no further transitions can happen.
func (s ScanJobStatus) IsTerminal() bool {
	return s == ScanStatusScanned || s == ScanStatusFailed
}

// FileMeta is the upload metadata captured once at acceptance.
type FileMeta struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// LineItem is one priced row on a receipt.
type LineItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// JobError is the failure recorded on a FAILED job.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   string `json:"details,omitempty"`
}

type ScanJob struct {
	ID         string        `json:"id"`
	Status     ScanJobStatus `json:"status"`
	FileName   string        `json:"fileName"`
	FileSize   int64         `json:"fileSize"`
	MimeType   string        `json:"mimeType"`
	FileBuffer []byte        `json:"fileBuffer,omitempty"`
	Attempt    int           `json:"attempt"`
	Result     []LineItem    `json:"result,omitempty"`
	Error      *JobError     `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// NewScanJob returns a QUEUED job owning buf.
func NewScanJob(id string, meta FileMeta, buf []byte, now time.Time) *ScanJob {
	return &ScanJob{
		ID:         id,
		Status:     ScanStatusQueued,
		FileName:   meta.FileName,
		FileSize:   meta.FileSize,
		MimeType:   meta.MimeType,
		FileBuffer: buf,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Meta returns the immutable upload metadata.
func (j *ScanJob) Meta() FileMeta {
	return FileMeta{FileName: j.FileName, FileSize: j.FileSize, MimeType: j.MimeType}
}

// MarkScanning moves the job into an extraction attempt. Like every Mark
// method it reports false and leaves the job untouched once it is terminal.
func (j *ScanJob) MarkScanning(attempt int, now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}
	j.Status = ScanStatusScanning
	j.Attempt = attempt
	j.UpdatedAt = now
	return true
}

// MarkRetrying surfaces the backoff between two attempts.
func (j *ScanJob) MarkRetrying(attempt int, now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}
	j.Status = ScanStatusRetrying
	if attempt > j.Attempt {
		j.Attempt = attempt
	}
	j.UpdatedAt = now
	return true
}

// MarkSuccess finishes the job with items and drops the buffer.
func (j *ScanJob) MarkSuccess(items []LineItem, now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}
	j.Status = ScanStatusScanned
	j.Result = items
	if j.Result == nil {
		j.Result = []LineItem{}
	}
	j.Error = nil
	j.FileBuffer = nil
	j.UpdatedAt = now
	return true
}

// MarkFailed finishes the job with jobErr and drops the buffer.
func (j *ScanJob) MarkFailed(jobErr JobError, now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}
	j.Status = ScanStatusFailed
	j.Error = &jobErr
	j.Result = nil
	j.FileBuffer = nil
	j.UpdatedAt = now
	return true
}

// Clone copies the job. The buffer is shared; it is never written after
// creation.
func (j *ScanJob) Clone() *ScanJob {
	cp := *j
	if j.Result != nil {
		cp.Result = append([]LineItem(nil), j.Result...)
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// ScanJobView is what the status endpoint exposes.
type ScanJobView struct {
	ScanJobID string        `json:"scanJobId"`
	Status    ScanJobStatus `json:"status"`
	Attempt   int           `json:"attempt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Result    []LineItem    `json:"result,omitempty"`
	Error     *JobError     `json:"error,omitempty"`
}

// View projects the job without its buffer. Result and error only appear on
// terminal jobs.
func (j *ScanJob) View() *ScanJobView {
	v := &ScanJobView{
		ScanJobID: j.ID,
		Status:    j.Status,
		Attempt:   j.Attempt,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	switch j.Status {
	case ScanStatusScanned:
		v.Result = append([]LineItem{}, j.Result...)
	case ScanStatusFailed:
		if j.Error != nil {
			e := *j.Error
			v.Error = &e
		}
	}
	return v
}

// JobStats counts stored jobs per status.
type JobStats struct {
	Total    int                   `json:"total"`
	ByStatus map[ScanJobStatus]int `json:"byStatus"`
}

func NewJobStats() JobStats {
	s := JobStats{ByStatus: make(map[ScanJobStatus]int, len(AllScanStatuses))}
	for _, st := range AllScanStatuses {
		s.ByStatus[st] = 0
	}
	return s
}

// Add counts one job.
func (s *JobStats) Add(status ScanJobStatus) {
	s.Total++
	s.ByStatus[status]++
}
