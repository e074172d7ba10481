package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = "1"
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type countingDirectory struct {
	mu           sync.Mutex
	voiceCalls   int
	profileCalls int
	voice        string
	profile      Profile
	err          error
}

func (d *countingDirectory) VoiceID(context.Context, string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voiceCalls++
	return d.voice, d.err
}

func (d *countingDirectory) Profile(context.Context, string) (Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profileCalls++
	return d.profile, d.err
}

func TestCachedDirectoryServesSecondLookupFromRedis(t *testing.T) {
	ctx := context.Background()
	backing := &countingDirectory{voice: "v1", profile: Profile{FirstName: "Ada"}}
	c := NewCachedDirectory(backing, newFakeRedis(), "test:", time.Minute, nil)

	for i := 0; i < 3; i++ {
		v, err := c.VoiceID(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "v1", v)
		p, err := c.Profile(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "Ada", p.FirstName)
	}
	require.Equal(t, 1, backing.voiceCalls)
	require.Equal(t, 1, backing.profileCalls)
}

func TestCachedDirectoryDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	backing := &countingDirectory{err: ErrVoiceNotFound}
	c := NewCachedDirectory(backing, newFakeRedis(), "test:", time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := c.VoiceID(ctx, "u1")
		require.ErrorIs(t, err, ErrVoiceNotFound)
	}
	require.Equal(t, 2, backing.voiceCalls)
}

func TestCachedDirectoryInvalidate(t *testing.T) {
	ctx := context.Background()
	backing := &countingDirectory{voice: "v1"}
	c := NewCachedDirectory(backing, newFakeRedis(), "test:", time.Minute, nil)

	_, err := c.VoiceID(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "u1"))
	_, err = c.VoiceID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, backing.voiceCalls)
}
