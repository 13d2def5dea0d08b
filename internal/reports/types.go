package reports

// Mismatch is a catalog file whose attributes disagree with the inventory.
// Times are epoch milliseconds, UTC.
type Mismatch struct {
	JobID            int64   `json:"jobId"`
	CollectionID     string  `json:"collectionId"`
	GranuleID        string  `json:"granuleId"`
	Filename         string  `json:"filename"`
	KeyPath          string  `json:"keyPath"`
	OrcaEtag         string  `json:"orcaEtag"`
	S3Etag           string  `json:"s3Etag"`
	OrcaLastUpdate   int64   `json:"orcaLastUpdate"`
	S3LastUpdate     int64   `json:"s3LastUpdate"`
	OrcaSizeInBytes  int64   `json:"orcaSizeInBytes"`
	S3SizeInBytes    int64   `json:"s3SizeInBytes"`
	OrcaStorageClass string  `json:"orcaStorageClass"`
	S3StorageClass   string  `json:"s3StorageClass"`
	DiscrepancyType  string  `json:"discrepancyType"`
	Comment          *string `json:"comment"`
}

// Phantom is a catalog file the inventory does not report.
type Phantom struct {
	JobID            int64  `json:"jobId"`
	CollectionID     string `json:"collectionId"`
	GranuleID        string `json:"granuleId"`
	Filename         string `json:"filename"`
	KeyPath          string `json:"keyPath"`
	OrcaEtag         string `json:"orcaEtag"`
	OrcaLastUpdate   int64  `json:"orcaLastUpdate"`
	OrcaSizeInBytes  int64  `json:"orcaSizeInBytes"`
	OrcaStorageClass string `json:"orcaStorageClass"`
}

// Orphan is an inventory object the catalog does not know about.
type Orphan struct {
	JobID        int64  `json:"-"`
	KeyPath      string `json:"keyPath"`
	Etag         string `json:"s3Etag"`
	LastUpdate   int64  `json:"s3FileLastUpdate"`
	SizeInBytes  int64  `json:"s3SizeInBytes"`
	StorageClass string `json:"s3StorageClass"`
}

var (
	granuleKeyFields = []string{"collection_id", "granule_id", "key_path"}
	orphanKeyFields  = []string{"key_path", "etag"}
)

// SortKey is the row's position in the read order.
func (m Mismatch) SortKey() []string {
	return []string{m.CollectionID, m.GranuleID, m.KeyPath}
}

func (p Phantom) SortKey() []string {
	return []string{p.CollectionID, p.GranuleID, p.KeyPath}
}

func (o Orphan) SortKey() []string {
	return []string{o.KeyPath, o.Etag}
}

// Page is one page of report rows in ascending sort order.
type Page[T any] struct {
	Items       []T     `json:"items"`
	StartCursor *string `json:"start_cursor"`
	EndCursor   *string `json:"end_cursor"`
	AnotherPage bool    `json:"anotherPage"`
}

// OrphanPage wraps orphans with the job id for client correlation.
type OrphanPage struct {
	JobID       int64    `json:"jobId"`
	Orphans     []Orphan `json:"orphans"`
	AnotherPage bool     `json:"anotherPage"`
	StartCursor *string  `json:"start_cursor,omitempty"`
	EndCursor   *string  `json:"end_cursor,omitempty"`
}
