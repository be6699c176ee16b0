package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunListTests executes the prefix listing contract tests.
func (suite *BackendTestSuite) RunListTests(t *testing.T) {
	t.Run("List_Empty", suite.testListEmpty)
	t.Run("List_Ordered", suite.testListOrdered)
	t.Run("List_Prefix", suite.testListPrefix)
	t.Run("List_AfterDelete", suite.testListAfterDelete)
}

// RunPresignTests checks presign support or the Unsupported contract.
func (suite *BackendTestSuite) RunPresignTests(t *testing.T) {
	b := suite.newBackend(t)
	mustPut(t, b, "shared.txt", []byte("share me"), newTestMetadata("shared.txt", 8))

	get, err := storage.PresignGet(testContext(), b, "shared.txt", time.Minute)
	put, putErr := storage.PresignPut(testContext(), b, "upload.txt", time.Minute)

	if !suite.SupportsPresign {
		AssertCode(t, storage.ErrUnsupported, err)
		AssertCode(t, storage.ErrUnsupported, putErr)
		return
	}

	require.NoError(t, err)
	require.NoError(t, putErr)
	assert.NotEmpty(t, get.URL)
	assert.Equal(t, "GET", get.Method)
	assert.Equal(t, "PUT", put.Method)
	assert.True(t, get.ExpiresAt.After(time.Now()))
}

func (suite *BackendTestSuite) testListEmpty(t *testing.T) {
	b := suite.newBackend(t)

	entries, err := b.List(testContext(), "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func (suite *BackendTestSuite) testListOrdered(t *testing.T) {
	b := suite.newBackend(t)

	for _, key := range []string{"c", "a", "b/2", "b/1"} {
		mustPut(t, b, key, []byte(key), newTestMetadata(key, len(key)))
	}

	entries, err := b.List(testContext(), "")
	require.NoError(t, err)

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
		require.NotNil(t, e.Metadata)
		assert.Equal(t, e.Key, e.Metadata.Name)
	}
	assert.Equal(t, []string{"a", "b/1", "b/2", "c"}, keys)
}

func (suite *BackendTestSuite) testListPrefix(t *testing.T) {
	b := suite.newBackend(t)

	mustPut(t, b, "v/a.txt/0000000001", []byte("1"), newTestMetadata("a.txt", 1))
	mustPut(t, b, "v/a.txt/0000000002", []byte("2"), newTestMetadata("a.txt", 1))
	mustPut(t, b, "v/b.txt/0000000001", []byte("3"), newTestMetadata("b.txt", 1))
	mustPut(t, b, "b/deadbeef", []byte("4"), newTestMetadata("deadbeef", 1))

	entries, err := b.List(testContext(), "v/a.txt/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "v/a.txt/0000000001", entries[0].Key)
	assert.Equal(t, "v/a.txt/0000000002", entries[1].Key)

	entries, err = b.List(testContext(), "v/")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func (suite *BackendTestSuite) testListAfterDelete(t *testing.T) {
	b := suite.newBackend(t)

	mustPut(t, b, "x/1", []byte("1"), newTestMetadata("x/1", 1))
	mustPut(t, b, "x/2", []byte("2"), newTestMetadata("x/2", 1))
	require.NoError(t, b.Delete(testContext(), "x/1"))

	entries, err := b.List(testContext(), "x/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x/2", entries[0].Key)
}
