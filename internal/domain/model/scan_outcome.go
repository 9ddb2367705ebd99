package model

import (
	"math"
	"time"
)

// ScanOutcome is the archived summary of a terminal job. The file itself is
// never archived.
type ScanOutcome struct {
	JobID      string
	Status     ScanJobStatus
	FileName   string
	MimeType   string
	FileSize   int64
	Attempts   int
	ItemCount  int
	TotalPrice float64
	ErrorCode  string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// NewScanOutcome summarizes a terminal job.
func NewScanOutcome(j *ScanJob) *ScanOutcome {
	o := &ScanOutcome{
		JobID:      j.ID,
		Status:     j.Status,
		FileName:   j.FileName,
		MimeType:   j.MimeType,
		FileSize:   j.FileSize,
		Attempts:   j.Attempt,
		CreatedAt:  j.CreatedAt,
		FinishedAt: j.UpdatedAt,
	}
	for _, it := range j.Result {
		o.ItemCount++
		o.TotalPrice += it.Price
	}
	o.TotalPrice = math.Round(o.TotalPrice*100) / 100
	if j.Error != nil {
		o.ErrorCode = j.Error.Code
	}
	return o
}
