package entity

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// UploadEvent is one object-creation event for an uploaded video. The object
// store may deliver the same event more than once; processing must tolerate
// duplicates.
type UploadEvent struct {
	Bucket     string    `json:"bucket"`
	ObjectKey  string    `json:"object_key"`
	Size       int64     `json:"size"`
	ReceivedAt time.Time `json:"received_at"`
}

// NotificationStatus is the terminal outcome of one processing attempt.
type NotificationStatus string

const (
	StatusSuccess NotificationStatus = "success"
	StatusFailure NotificationStatus = "failure"
)

// CompletionNotification signals a terminal extraction outcome to the archive
// stage and to observers. FrameSet is set iff Status is success, ErrorDetail
// iff failure.
type CompletionNotification struct {
	Status      NotificationStatus `json:"status"`
	SourceKey   string             `json:"source_key"`
	FrameSet    *FrameSet          `json:"frame_set,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
}

// ArchiveNotification is the final pipeline signal, published once the
// archive blob exists.
type ArchiveNotification struct {
	Status      NotificationStatus `json:"status"`
	SourceKey   string             `json:"source_key"`
	Archive     *ArchiveRecord     `json:"archive,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
}

// bucketNotification is the S3-style document MinIO publishes on object
// creation. Only the fields the pipeline reads are declared.
type bucketNotification struct {
	Records []struct {
		EventTime string `json:"eventTime"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeUploadEvents parses a bucket-notification document into upload
// events. Object keys arrive URL-encoded (spaces as "+" or "%20") and are
// decoded here, at the boundary. A document without records is a permanent
// failure: redelivery cannot grow it records.
func DecodeUploadEvents(body []byte) ([]UploadEvent, error) {
	var doc bucketNotification
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, Permanent("decode upload events", fmt.Errorf("unmarshal bucket notification: %w", err))
	}
	if len(doc.Records) == 0 {
		return nil, Permanentf("decode upload events", "bucket notification has no records")
	}

	events := make([]UploadEvent, 0, len(doc.Records))
	for _, rec := range doc.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, Permanent("decode upload events", fmt.Errorf("unescape object key %q: %w", rec.S3.Object.Key, err))
		}
		ev := UploadEvent{
			Bucket:    rec.S3.Bucket.Name,
			ObjectKey: key,
			Size:      rec.S3.Object.Size,
		}
		if t, err := time.Parse(time.RFC3339, rec.EventTime); err == nil {
			ev.ReceivedAt = t
		} else {
			ev.ReceivedAt = time.Now().UTC()
		}
		events = append(events, ev)
	}
	return events, nil
}
