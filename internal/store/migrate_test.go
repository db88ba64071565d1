package store

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	applied map[int]bool
	ran     []int
	failOn  int
}

func (f *fakeExec) EnsureTable(ctx context.Context) error { return nil }

func (f *fakeExec) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	out := map[int]bool{}
	for v := range f.applied {
		out[v] = true
	}
	return out, nil
}

func (f *fakeExec) Apply(ctx context.Context, m Migration) error {
	if m.Version == f.failOn {
		return errors.New("syntax error")
	}
	f.ran = append(f.ran, m.Version)
	f.applied[m.Version] = true
	return nil
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0002_roles.sql":    {Data: []byte("CREATE TABLE roles (id TEXT);")},
		"0001_identity.sql": {Data: []byte("CREATE TABLE users (id TEXT);")},
		"README.md":         {Data: []byte("ignored")},
	}
}

func TestMigrator_ParseOrdersByVersion(t *testing.T) {
	migs, err := NewMigrator(testFS(), ".").ParseMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "identity", migs[0].Name)
	assert.Equal(t, "roles", migs[1].Name)
}

func TestMigrator_RunSkipsApplied(t *testing.T) {
	exec := &fakeExec{applied: map[int]bool{1: true}}
	res, err := NewMigrator(testFS(), ".").Run(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.Applied)
	assert.Equal(t, []int{1}, res.Skipped)

	res, err = NewMigrator(testFS(), ".").Run(context.Background(), exec)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
}

func TestMigrator_StopsOnFailure(t *testing.T) {
	exec := &fakeExec{applied: map[int]bool{}, failOn: 2}
	res, err := NewMigrator(testFS(), ".").Run(context.Background(), exec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_roles")
	assert.Equal(t, []int{1}, res.Applied)
}
