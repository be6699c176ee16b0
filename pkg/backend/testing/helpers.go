package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertCode checks that err is a storage error carrying the expected code.
func AssertCode(t *testing.T, expected storage.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, expected, storage.CodeOf(err), "unexpected error: %v", err)
}

// AssertMetadataEqual compares metadata field by field, using time.Equal for timestamps
// so serialization round trips through JSON or SQL do not cause spurious failures.
func AssertMetadataEqual(t *testing.T, expected, actual *storage.FileMetadata) {
	t.Helper()
	require.NotNil(t, actual)

	assert.Equal(t, expected.Storage, actual.Storage)
	assert.Equal(t, expected.Name, actual.Name)
	assert.Equal(t, expected.Version, actual.Version)
	assert.Equal(t, expected.VersionID, actual.VersionID)
	assert.Equal(t, expected.ParentVersionID, actual.ParentVersionID)
	assert.Equal(t, expected.ContentHash, actual.ContentHash)
	assert.Equal(t, expected.Size, actual.Size)
	assert.Equal(t, expected.ContentType, actual.ContentType)
	assert.ElementsMatch(t, expected.Tags, actual.Tags)
	assert.Equal(t, expected.IsDeleted, actual.IsDeleted)
	assert.Equal(t, len(expected.Custom), len(actual.Custom))
	for k, v := range expected.Custom {
		assert.Equal(t, v, actual.Custom[k], "custom[%s]", k)
	}
	assert.True(t, expected.CreatedAt.Equal(actual.CreatedAt), "created_at %v != %v", expected.CreatedAt, actual.CreatedAt)
	assert.True(t, expected.UpdatedAt.Equal(actual.UpdatedAt), "updated_at %v != %v", expected.UpdatedAt, actual.UpdatedAt)
	if expected.DeletedAt == nil {
		assert.Nil(t, actual.DeletedAt)
	} else if assert.NotNil(t, actual.DeletedAt) {
		assert.True(t, expected.DeletedAt.Equal(*actual.DeletedAt))
	}
}

// mustPut stores data and fails the test if it errors.
func mustPut(t *testing.T, b storage.Backend, key string, data []byte, meta *storage.FileMetadata) string {
	t.Helper()
	loc, err := b.Put(testContext(), key, data, meta)
	require.NoError(t, err, "Put should succeed")
	return loc
}

// mustGet loads data and fails the test if it errors.
func mustGet(t *testing.T, b storage.Backend, key string) ([]byte, *storage.FileMetadata) {
	t.Helper()
	data, meta, err := b.Get(testContext(), key)
	require.NoError(t, err, "Get should succeed")
	return data, meta
}

// assertExists checks the Exists result for key.
func assertExists(t *testing.T, b storage.Backend, key string, expected bool) {
	t.Helper()
	exists, err := b.Exists(testContext(), key)
	require.NoError(t, err, "Exists should not error")
	assert.Equal(t, expected, exists, "existence mismatch for %s", key)
}

// newTestMetadata returns a fully populated record with millisecond timestamps.
func newTestMetadata(name string, size int) *storage.FileMetadata {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &storage.FileMetadata{
		Storage:     "test",
		Name:        name,
		Version:     1,
		VersionID:   "vid-" + name,
		Size:        int64(size),
		ContentType: "text/plain",
		Tags:        []string{"alpha", "beta"},
		CreatedAt:   now,
		UpdatedAt:   now,
		Custom:      map[string]string{"owner": "tests"},
	}
}

// generateTestData creates test data of specified size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}
