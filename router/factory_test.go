package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
)

func TestStartRealmRejectsDuplicateURI(t *testing.T) {
	f := NewFactory("node1", nil, nil)

	r, err := f.StartRealm("com.example.realm1")
	require.NoError(t, err)
	assert.Equal(t, "com.example.realm1", r.URI())

	_, err = f.StartRealm("com.example.realm1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeAlreadyRunning))
}

func TestStopRealmRemovesRouter(t *testing.T) {
	f := NewFactory("node1", nil, nil)
	_, err := f.StartRealm("com.example.realm1")
	require.NoError(t, err)

	require.NoError(t, f.StopRealm(context.Background(), "com.example.realm1"))

	_, ok := f.Realm("com.example.realm1")
	assert.False(t, ok)

	err = f.StopRealm(context.Background(), "com.example.realm1")
	assert.True(t, errors.HasCode(err, errors.CodeNoSuchObject))
}

func TestRealmRoles(t *testing.T) {
	f := NewFactory("node1", nil, nil)
	r, err := f.StartRealm("com.example.realm1")
	require.NoError(t, err)

	require.NoError(t, r.AddRole(config.Role{Name: "anonymous"}))
	assert.True(t, r.HasRole("anonymous"))

	err = r.AddRole(config.Role{Name: "anonymous"})
	assert.True(t, errors.HasCode(err, errors.CodeAlreadyExists))

	require.NoError(t, r.DropRole("anonymous"))
	assert.False(t, r.HasRole("anonymous"))

	err = r.DropRole("anonymous")
	assert.True(t, errors.HasCode(err, errors.CodeNoSuchObject))
}

func TestRoleNamespacesAreIndependentPerRealm(t *testing.T) {
	f := NewFactory("node1", nil, nil)
	r1, err := f.StartRealm("com.example.realm1")
	require.NoError(t, err)
	r2, err := f.StartRealm("com.example.realm2")
	require.NoError(t, err)

	require.NoError(t, r1.AddRole(config.Role{Name: "user"}))
	require.NoError(t, r2.AddRole(config.Role{Name: "user"}))
}

func TestClosedRealmRejectsRoles(t *testing.T) {
	f := NewFactory("node1", nil, nil)
	r, err := f.StartRealm("com.example.realm1")
	require.NoError(t, err)
	require.NoError(t, r.Close(context.Background()))

	err = r.AddRole(config.Role{Name: "user"})
	assert.True(t, errors.HasCode(err, errors.CodeNotRunning))
}
