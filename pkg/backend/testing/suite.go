package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
)

// BackendTestSuite is a contract test suite for storage.Backend implementations.
// It tests the interface contract, not implementation details, making it reusable
// across the memory, filesystem, badger, sql and S3 backends.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &testing.BackendTestSuite{
//	        NewBackend: func(t *testing.T) storage.Backend {
//	            return mybackend.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend creates a fresh, empty backend for each test.
	NewBackend func(t *testing.T) storage.Backend

	// SupportsPresign enables the presign tests; other backends are expected
	// to report ErrUnsupported.
	SupportsPresign bool
}

// Run executes all tests in the suite.
func (suite *BackendTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("ListOperations", suite.RunListTests)
	t.Run("Presign", suite.RunPresignTests)
}

// newBackend creates a backend and registers its cleanup.
func (suite *BackendTestSuite) newBackend(t *testing.T) storage.Backend {
	t.Helper()
	b := suite.NewBackend(t)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
