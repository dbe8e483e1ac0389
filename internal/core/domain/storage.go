package domain

// StorageID is the remote id of a cloud storage entry. The console returns
// opaque strings for these.
type StorageID string

// StorageKind names the backend of a storage entry
type StorageKind string

const (
	StorageKindS3    StorageKind = "s3"
	StorageKindAzure StorageKind = "azure"
	StorageKindGCS   StorageKind = "gcs"
)

// Storage is a cloud storage entry known to the console. Name is the logical
// identity; ID is what jobs reference.
type Storage struct {
	ID          StorageID   `json:"id"`
	Name        string      `json:"name"`
	Kind        StorageKind `json:"type"`
	Description string      `json:"description,omitempty"`
	Credentials Credentials `json:"-"`
	Location    Location    `json:"location"`
}

// Credentials authenticate the console against the storage backend.
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// Location is where data lives inside the backend.
type Location struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
}

// StorageParams are the creation parameters for Ensure.
type StorageParams struct {
	Kind        StorageKind
	Description string
	Credentials Credentials
	Location    Location
}
