package reports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysetSQL(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		hasCursor bool
		want      string
	}{
		{
			name:      "first page",
			direction: Next,
			want:      `SELECT job_id, key_path FROM "reconcile_orphan_report" WHERE job_id = $1 ORDER BY "key_path" COLLATE "C" ASC, "etag" COLLATE "C" ASC LIMIT $2`,
		},
		{
			name:      "next after cursor",
			direction: Next,
			hasCursor: true,
			want:      `SELECT job_id, key_path FROM "reconcile_orphan_report" WHERE job_id = $1 AND ("key_path" COLLATE "C", "etag" COLLATE "C") > ($2, $3) ORDER BY "key_path" COLLATE "C" ASC, "etag" COLLATE "C" ASC LIMIT $4`,
		},
		{
			name:      "previous before cursor",
			direction: Previous,
			hasCursor: true,
			want:      `SELECT job_id, key_path FROM "reconcile_orphan_report" WHERE job_id = $1 AND ("key_path" COLLATE "C", "etag" COLLATE "C") < ($2, $3) ORDER BY "key_path" COLLATE "C" DESC, "etag" COLLATE "C" DESC LIMIT $4`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeysetSQL(OrphanTable, []string{"job_id", "key_path"}, orphanKeyFields, tt.direction, tt.hasCursor)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeysetArgs(t *testing.T) {
	assert.Equal(t, []any{int64(5), 3}, keysetArgs(KeysetQuery{JobID: 5, Limit: 3}))
	assert.Equal(t, []any{int64(5), "c", "g", "k", 3}, keysetArgs(KeysetQuery{JobID: 5, After: []string{"c", "g", "k"}, Limit: 3}))
}
