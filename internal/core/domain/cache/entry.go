package cache

import "time"

// Entry is the stored form of a cached value as produced by the codec.
type Entry struct {
	Key           string        `json:"key"`
	Payload       []byte        `json:"-"`
	Compressed    bool          `json:"compressed"`
	Algorithm     string        `json:"algorithm"`
	SchemaVersion uint8         `json:"schema_version"`
	OriginalSize  int           `json:"original_size"`
	StoredSize    int           `json:"stored_size"`
	TTL           time.Duration `json:"ttl"`
}

// BytesSaved is how much smaller the stored payload is than the serialized value.
// It is negative when the envelope header outweighs the savings.
func (e Entry) BytesSaved() int {
	return e.OriginalSize - e.StoredSize
}
