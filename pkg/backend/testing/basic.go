package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes the put/get/head/delete/exists contract tests.
func (suite *BackendTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("Head_NotFound", suite.testHeadNotFound)
	t.Run("PutGet_RoundTrip", suite.testPutGetRoundTrip)
	t.Run("Put_Overwrite", suite.testPutOverwrite)
	t.Run("Put_EmptyData", suite.testPutEmpty)
	t.Run("Put_LargeData", suite.testPutLarge)
	t.Run("Put_NestedKey", suite.testPutNestedKey)
	t.Run("Put_SoftDeletedMetadata", suite.testPutSoftDeleted)
	t.Run("Delete_Success", suite.testDeleteSuccess)
	t.Run("Delete_NotFound", suite.testDeleteNotFound)
	t.Run("Exists", suite.testExists)
}

// ============================================================================
// Get / Head Tests
// ============================================================================

func (suite *BackendTestSuite) testGetNotFound(t *testing.T) {
	b := suite.newBackend(t)

	_, _, err := b.Get(testContext(), "missing")
	AssertCode(t, storage.ErrNotFound, err)
}

func (suite *BackendTestSuite) testHeadNotFound(t *testing.T) {
	b := suite.newBackend(t)

	_, err := b.Head(testContext(), "missing")
	AssertCode(t, storage.ErrNotFound, err)
}

func (suite *BackendTestSuite) testPutGetRoundTrip(t *testing.T) {
	b := suite.newBackend(t)

	data := []byte("Hello, World!")
	meta := newTestMetadata("hello.txt", len(data))

	loc := mustPut(t, b, "v/hello.txt/0000000001", data, meta)
	assert.NotEmpty(t, loc)

	got, gotMeta := mustGet(t, b, "v/hello.txt/0000000001")
	assert.Equal(t, data, got)
	AssertMetadataEqual(t, meta, gotMeta)

	head, err := b.Head(testContext(), "v/hello.txt/0000000001")
	require.NoError(t, err)
	AssertMetadataEqual(t, meta, head)
}

func (suite *BackendTestSuite) testPutOverwrite(t *testing.T) {
	b := suite.newBackend(t)

	mustPut(t, b, "k", []byte("first"), newTestMetadata("k", 5))
	meta := newTestMetadata("k", 6)
	meta.ContentType = "application/octet-stream"
	mustPut(t, b, "k", []byte("second"), meta)

	got, gotMeta := mustGet(t, b, "k")
	assert.Equal(t, []byte("second"), got)
	assert.Equal(t, "application/octet-stream", gotMeta.ContentType)
	assert.Equal(t, int64(6), gotMeta.Size)
}

func (suite *BackendTestSuite) testPutEmpty(t *testing.T) {
	b := suite.newBackend(t)

	mustPut(t, b, "empty", []byte{}, newTestMetadata("empty", 0))

	got, _ := mustGet(t, b, "empty")
	assert.Equal(t, 0, len(got))
}

func (suite *BackendTestSuite) testPutLarge(t *testing.T) {
	b := suite.newBackend(t)

	// 2MB test data
	data := generateTestData(2 * 1024 * 1024)
	mustPut(t, b, "large", data, newTestMetadata("large", len(data)))

	got, _ := mustGet(t, b, "large")
	assert.Equal(t, data, got)
}

func (suite *BackendTestSuite) testPutNestedKey(t *testing.T) {
	b := suite.newBackend(t)

	mustPut(t, b, "v/docs/2024/report.pdf/0000000003", []byte("pdf"), newTestMetadata("docs/2024/report.pdf", 3))

	got, meta := mustGet(t, b, "v/docs/2024/report.pdf/0000000003")
	assert.Equal(t, []byte("pdf"), got)
	assert.Equal(t, "docs/2024/report.pdf", meta.Name)
}

func (suite *BackendTestSuite) testPutSoftDeleted(t *testing.T) {
	b := suite.newBackend(t)

	meta := newTestMetadata("trash.txt", 1)
	meta.MarkDeleted(time.Now().UTC().Truncate(time.Millisecond))
	meta.ContentHash = "abc123"
	meta.ParentVersionID = "vid-parent"

	mustPut(t, b, "trash", []byte("x"), meta)

	_, got := mustGet(t, b, "trash")
	AssertMetadataEqual(t, meta, got)
}

// ============================================================================
// Delete / Exists Tests
// ============================================================================

func (suite *BackendTestSuite) testDeleteSuccess(t *testing.T) {
	b := suite.newBackend(t)

	mustPut(t, b, "gone", []byte("bye"), newTestMetadata("gone", 3))
	require.NoError(t, b.Delete(testContext(), "gone"))

	_, _, err := b.Get(testContext(), "gone")
	AssertCode(t, storage.ErrNotFound, err)
	assertExists(t, b, "gone", false)
}

func (suite *BackendTestSuite) testDeleteNotFound(t *testing.T) {
	b := suite.newBackend(t)

	err := b.Delete(testContext(), "never-existed")
	AssertCode(t, storage.ErrNotFound, err)

	// Repeating the delete is still a NotFound, never a fatal fault.
	err = b.Delete(testContext(), "never-existed")
	AssertCode(t, storage.ErrNotFound, err)
}

func (suite *BackendTestSuite) testExists(t *testing.T) {
	b := suite.newBackend(t)

	assertExists(t, b, "present", false)
	mustPut(t, b, "present", []byte("1"), newTestMetadata("present", 1))
	assertExists(t, b, "present", true)
}
