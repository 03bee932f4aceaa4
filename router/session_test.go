package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranaix/crossbar/errors"
)

func newTestFactory(t *testing.T, realmURIs ...string) (*NATSFactory, *NATSSessionFactory) {
	t.Helper()
	f := NewFactory("node1", nil, nil)
	for _, uri := range realmURIs {
		_, err := f.StartRealm(uri)
		require.NoError(t, err)
	}
	return f, NewSessionFactory(f, nil, nil)
}

func TestAddRequiresLiveRealm(t *testing.T) {
	_, sessions := newTestFactory(t)

	s := NewLocalSession("com.example.ghost", nil)
	err := sessions.Add(context.Background(), s, "anonymous")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNoSuchObject))
	assert.False(t, s.IsConnected())
}

func TestAddFiresJoinHooks(t *testing.T) {
	_, sessions := newTestFactory(t, "com.example.realm1")

	s := NewLocalSession("com.example.realm1", nil)
	joined := false
	s.OnJoin(func() { joined = true })

	require.NoError(t, sessions.Add(context.Background(), s, "anonymous"))
	assert.True(t, joined)
	assert.True(t, s.IsConnected())
	assert.Equal(t, 1, sessions.Count())
}

func TestAddRejectsDoubleAttach(t *testing.T) {
	_, sessions := newTestFactory(t, "com.example.realm1")

	s := NewLocalSession("com.example.realm1", nil)
	require.NoError(t, sessions.Add(context.Background(), s, "anonymous"))

	err := sessions.Add(context.Background(), s, "anonymous")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeAlreadyRunning))
}

func TestLeaveFiresLeaveHooksAndDetaches(t *testing.T) {
	_, sessions := newTestFactory(t, "com.example.realm1")

	s := NewLocalSession("com.example.realm1", nil)
	left := false
	s.OnLeave(func() { left = true })
	require.NoError(t, sessions.Add(context.Background(), s, "anonymous"))

	require.NoError(t, s.Leave(context.Background()))
	assert.True(t, left)
	assert.False(t, s.IsConnected())

	err := s.Leave(context.Background())
	assert.True(t, errors.HasCode(err, errors.CodeNotRunning))
}

func TestRemoveUnknownSession(t *testing.T) {
	_, sessions := newTestFactory(t, "com.example.realm1")
	s := NewLocalSession("com.example.realm1", nil)
	err := sessions.Remove(s)
	assert.True(t, errors.HasCode(err, errors.CodeNoSuchObject))
}

func TestPanicInJoinHookIsFatalToSessionOnly(t *testing.T) {
	_, sessions := newTestFactory(t, "com.example.realm1")

	s := NewLocalSession("com.example.realm1", nil)
	var fatal error
	s.SetFatalHandler(func(err error) {
		fatal = err
		s.Disconnect()
	})
	s.OnJoin(func() { panic("component bug") })

	require.NoError(t, sessions.Add(context.Background(), s, "anonymous"))
	require.Error(t, fatal)
	assert.Contains(t, fatal.Error(), "component bug")
	assert.False(t, s.IsConnected())
}

func TestPublishOnDetachedSession(t *testing.T) {
	s := NewLocalSession("com.example.realm1", nil)
	err := s.Publish(context.Background(), "topic1", map[string]any{"a": 1})
	assert.True(t, errors.HasCode(err, errors.CodeNotRunning))
}

func TestServiceSessionReadyAfterAttach(t *testing.T) {
	_, sessions := newTestFactory(t, "com.example.realm1")

	svc := NewServiceSession("com.example.realm1", nil, nil)
	require.NoError(t, sessions.Add(context.Background(), svc, "trusted"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.WaitReady(ctx))
	assert.Empty(t, svc.Schemas())
}

func TestServiceSessionNotReadyBeforeAttach(t *testing.T) {
	svc := NewServiceSession("com.example.realm1", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
