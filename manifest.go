package kvtree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Reserved manifest keys.
const (
	ManifestFilename       = "filename"
	ManifestWriterClass    = "writerClass"
	ManifestReaderClass    = "readerClass"
	ManifestCacheGroupSize = "cacheGroupSize"
	ManifestBlockSize      = "blockSize"
	ManifestMaxKeySize     = "maxKeySize"
	ManifestEmptyIndexFile = "emptyIndexFile"
	ManifestKeyCount       = "keyCount"
	ManifestBlockCount     = "blockCount"
	ManifestCompression    = "compression"
)

// Manifest is the free-form metadata map persisted with every file. Apart
// from the reserved keys, values are stored and returned verbatim.
type Manifest map[string]interface{}

// Copy returns a shallow copy of the manifest.
func (m Manifest) Copy() Manifest {
	c := make(Manifest, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// GetInt returns an integer value or def if absent.
func (m Manifest) GetInt(key string, def int64) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// GetBool returns a boolean value or def if absent.
func (m Manifest) GetBool(key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

// GetString returns a string value or def if absent.
func (m Manifest) GetString(key string, def string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

func (m Manifest) marshal() ([]byte, error) {
	return json.Marshal(m)
}

func parseManifest(data []byte) (Manifest, error) {
	m := make(Manifest)
	if len(data) == 0 {
		return m, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
