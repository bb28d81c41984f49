package zk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		errorExpected bool
	}{
		{
			name:          "empty string",
			path:          "",
			errorExpected: true,
		},
		{
			name:          "not starting at root",
			path:          "node/other/one",
			errorExpected: true,
		},
		{
			name:          "not ending with node name",
			path:          "/a/b/",
			errorExpected: true,
		},
		{
			name:          "root",
			path:          "/",
			errorExpected: true,
		},
		{
			name:          "no parents",
			path:          "/x",
			errorExpected: false,
		},
		{
			name:          "multiple parents",
			path:          "/x/y/z",
			errorExpected: false,
		},
		{
			name:          "empty name between path separator",
			path:          "//y/z",
			errorExpected: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidatePath(test.path)
			if test.errorExpected {
				assert.ErrorIs(t, err, ErrInvalidPath)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParent(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		parent string
		leaf   string
	}{
		{
			name:   "directly under root",
			path:   "/x",
			parent: "/",
			leaf:   "x",
		},
		{
			name:   "nested",
			path:   "/x/y/z",
			parent: "/x/y",
			leaf:   "z",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			parent, leaf := Parent(test.path)
			assert.Equal(t, test.parent, parent)
			assert.Equal(t, test.leaf, leaf)
		})
	}
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitPath("/a/b/c"))
	assert.Equal(t, []string{"a"}, SplitPath("/a"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/a/b/c", Join("/a/b", "c"))
}

func TestZXID(t *testing.T) {
	z := NewZXID(7, 42)
	assert.Equal(t, int32(7), z.Epoch())
	assert.Equal(t, int32(42), z.Counter())
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
	}{
		{
			name:      "connection loss is transient",
			err:       ErrConnectionLoss,
			transient: true,
		},
		{
			name:      "operation timeout is transient",
			err:       ErrOperationTimeout,
			transient: true,
		},
		{
			name:  "session expiry is fatal",
			err:   ErrSessionExpired,
			fatal: true,
		},
		{
			name:  "auth failure is fatal",
			err:   ErrAuthFailed,
			fatal: true,
		},
		{
			name: "semantic errors are neither",
			err:  ErrBadVersion,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.transient, IsTransient(test.err))
			assert.Equal(t, test.fatal, IsFatal(test.err))
		})
	}
}
