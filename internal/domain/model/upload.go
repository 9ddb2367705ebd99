package model

// Upload is an incoming receipt file before it becomes a job.
type Upload struct {
	FileName string
	MimeType string
	Data     []byte
	ClientID string
}

// Size returns the payload length in bytes.
func (u Upload) Size() int64 { return int64(len(u.Data)) }
