package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("loading head: %w", NewError(ErrNotFound, "get", "a.txt", nil))

	assert.True(t, errors.Is(err, &StoreError{Code: ErrNotFound}))
	assert.False(t, errors.Is(err, &StoreError{Code: ErrConflict}))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "get a.txt: not found", errors.Unwrap(err).Error())
}

func TestWrap(t *testing.T) {
	t.Run("PreservesCode", func(t *testing.T) {
		err := Wrap("create_version", "a", NewError(ErrConflict, "commit", "v/a/1", nil))
		assert.True(t, IsConflict(err))
	})

	t.Run("DeadlineBecomesTimeout", func(t *testing.T) {
		err := Wrap("get", "a", context.DeadlineExceeded)
		assert.Equal(t, ErrTimeout, CodeOf(err))
		assert.True(t, IsRetryable(err))
	})

	t.Run("ForeignBecomesInternal", func(t *testing.T) {
		cause := errors.New("disk on fire")
		err := Wrap("put", "a", cause)
		assert.Equal(t, ErrInternal, CodeOf(err))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, Wrap("put", "a", nil))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(NewError(ErrNotFound, "get", "a", nil)))
	assert.False(t, IsRetryable(NewError(ErrInvalidInput, "get", "a", nil)))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(NewError(ErrInternal, "get", "a", errors.New("eof"))))
}

func TestValidateName(t *testing.T) {
	valid := []string{"a.txt", "docs/report.pdf", "x/y/z", "logs/20240101", "a/00000000012"}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", "/abs", "a//b", "a/../b", "./a", "trailing/", "nul\x00", "a/0000000001", "0000000001/b"}
	for _, name := range invalid {
		err := ValidateName(name)
		require.Error(t, err, name)
		assert.True(t, IsInvalidInput(err), name)
	}
}

func TestFileMetadata_CloneIsDeep(t *testing.T) {
	now := time.Now()
	m := &FileMetadata{Name: "a", Tags: []string{"x"}, Custom: map[string]string{"k": "v"}}
	m.MarkDeleted(now)

	c := m.Clone()
	c.Tags[0] = "y"
	c.Custom["k"] = "w"
	*c.DeletedAt = now.Add(time.Hour)

	assert.Equal(t, "x", m.Tags[0])
	assert.Equal(t, "v", m.Custom["k"])
	assert.True(t, m.DeletedAt.Equal(now))
}

func TestFileMetadata_DeletedPair(t *testing.T) {
	m := &FileMetadata{}
	m.MarkDeleted(time.Now())
	assert.True(t, m.IsDeleted)
	assert.NotNil(t, m.DeletedAt)

	m.ClearDeleted(time.Now())
	assert.False(t, m.IsDeleted)
	assert.Nil(t, m.DeletedAt)
}

func TestNormalizeTagsAndHasTags(t *testing.T) {
	tags := NormalizeTags([]string{"b", "a", "b"})
	assert.Equal(t, []string{"a", "b"}, tags)

	m := &FileMetadata{Tags: tags}
	assert.True(t, m.HasTags([]string{"a"}))
	assert.True(t, m.HasTags(nil))
	assert.False(t, m.HasTags([]string{"a", "c"}))
}

type plainBackend struct{ Backend }

func TestPresignUnsupported(t *testing.T) {
	_, err := PresignGet(context.Background(), plainBackend{}, "a", time.Minute)
	assert.True(t, IsUnsupported(err))

	_, err = PresignPut(context.Background(), plainBackend{}, "a", time.Minute)
	assert.True(t, IsUnsupported(err))
}
