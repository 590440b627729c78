package syncer

import (
	"time"

	"github.com/alexjbarnes/checklist-sync/internal/models"
)

// Decide chooses what a pass does for one document name. It is a pure
// function: the later modification time wins outright and equal times
// mean the two sides already agree. Documents are never merged.
//
// Times are compared at millisecond resolution, the precision the remote
// store keeps. Comparing nanoseconds would make a freshly uploaded
// document look newer locally forever. Both sides are capped at
// MaxModifiedTime first.
func Decide(name string, local *models.LocalRecord, remote *models.RemoteRecord) models.SyncDecision {
	d := models.SyncDecision{Name: name, Local: local, Remote: remote}

	switch {
	case local == nil && remote == nil:
		d.Action = models.ActionNone

	case local == nil:
		d.Action = models.ActionDownload

	case remote == nil:
		d.Action = models.ActionUpload

	default:
		lt, rt := millis(local.ModifiedTime), millis(remote.ModifiedTime)

		switch {
		case lt > rt:
			d.Action = models.ActionUpload
		case lt < rt:
			d.Action = models.ActionDownload
		default:
			d.Action = models.ActionNone
		}
	}

	return d
}

func millis(t time.Time) int64 {
	if t.After(MaxModifiedTime) {
		t = MaxModifiedTime
	}

	return t.UnixMilli()
}
