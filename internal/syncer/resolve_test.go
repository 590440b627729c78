package syncer

import (
	"testing"
	"time"

	"github.com/alexjbarnes/checklist-sync/internal/models"
	"github.com/stretchr/testify/assert"
)

func localRec(name string, mtime time.Time) *models.LocalRecord {
	return &models.LocalRecord{Name: name, ModifiedTime: mtime}
}

func remoteRec(id, name string, mtime time.Time) *models.RemoteRecord {
	return &models.RemoteRecord{ID: id, Name: name, MimeType: MimeType, ModifiedTime: mtime}
}

func TestDecide(t *testing.T) {
	t100 := time.UnixMilli(100).UTC()
	t200 := time.UnixMilli(200).UTC()

	tests := []struct {
		name   string
		local  *models.LocalRecord
		remote *models.RemoteRecord
		want   models.SyncAction
	}{
		{
			name: "neither side",
			want: models.ActionNone,
		},
		{
			name:   "remote only -> download",
			remote: remoteRec("r1", "a", t100),
			want:   models.ActionDownload,
		},
		{
			name:  "local only -> upload",
			local: localRec("a", t100),
			want:  models.ActionUpload,
		},
		{
			name:   "local newer -> upload",
			local:  localRec("a", t200),
			remote: remoteRec("r1", "a", t100),
			want:   models.ActionUpload,
		},
		{
			name:   "remote newer -> download",
			local:  localRec("a", t100),
			remote: remoteRec("r1", "a", t200),
			want:   models.ActionDownload,
		},
		{
			name:   "equal -> none",
			local:  localRec("a", t100),
			remote: remoteRec("r1", "a", t100),
			want:   models.ActionNone,
		},
		{
			name:   "sub-millisecond local excess -> none",
			local:  localRec("a", t100.Add(999*time.Microsecond)),
			remote: remoteRec("r1", "a", t100),
			want:   models.ActionNone,
		},
		{
			name:   "placeholder remote is always older",
			local:  localRec("a", t100),
			remote: remoteRec("r1", "a", PlaceholderModifiedTime),
			want:   models.ActionUpload,
		},
		{
			name:   "different zones same instant -> none",
			local:  localRec("a", t200.In(time.FixedZone("X", 3600))),
			remote: remoteRec("r1", "a", t200),
			want:   models.ActionNone,
		},
		{
			name:   "far-future remote matches capped local -> none",
			local:  localRec("a", MaxModifiedTime),
			remote: remoteRec("r1", "a", time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)),
			want:   models.ActionNone,
		},
		{
			name:   "far-future remote still beats an ordinary local",
			local:  localRec("a", t200),
			remote: remoteRec("r1", "a", time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)),
			want:   models.ActionDownload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide("a", tt.local, tt.remote)
			assert.Equal(t, tt.want, got.Action)
			assert.Equal(t, "a", got.Name)
			assert.Same(t, tt.local, got.Local)
			assert.Same(t, tt.remote, got.Remote)
		})
	}
}
