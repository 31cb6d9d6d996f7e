package session

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pondok-erp/pondok-erp/internal/records"
	"github.com/pondok-erp/pondok-erp/internal/shared"
)

// fakeStore keeps records per entity type in memory.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]map[int64]map[string]string
	nextID  int64
	finds   int
	findErr error
	// afterFind runs once the rows are read, before FindBy returns.
	afterFind func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[int64]map[string]string)}
}

func (f *fakeStore) put(entity string, fields map[string]string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[entity] == nil {
		f.rows[entity] = make(map[int64]map[string]string)
	}
	f.nextID++
	f.rows[entity][f.nextID] = fields
	return f.nextID
}

func toRecord(id int64, row map[string]string) records.Record {
	rec := records.Record{ID: id, Fields: make(map[string]*string, len(row))}
	for k, v := range row {
		v := v
		rec.Fields[k] = &v
	}
	return rec
}

func (f *fakeStore) Get(ctx context.Context, entityType, id string) ([]records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []records.Record{}
	for rid, row := range f.rows[entityType] {
		out = append(out, toRecord(rid, row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) FindBy(ctx context.Context, entityType, field, value string) ([]records.Record, error) {
	f.mu.Lock()
	f.finds++
	err := f.findErr
	hook := f.afterFind
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	all, _ := f.Get(ctx, entityType, "")
	out := []records.Record{}
	for _, rec := range all {
		if rec.Value(field) == value {
			out = append(out, rec)
		}
	}
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeStore) Save(ctx context.Context, entityType string, fields map[string]any, explicitID string) (records.SaveResult, error) {
	row := make(map[string]string, len(fields))
	for k, v := range fields {
		row[k] = v.(string)
	}
	if explicitID == "" {
		return records.SaveResult{ID: f.put(entityType, row), Created: true}, nil
	}
	id, _ := strconv.ParseInt(explicitID, 10, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[entityType][id]
	if !ok {
		return records.SaveResult{}, shared.ErrNotFound
	}
	for k, v := range row {
		existing[k] = v
	}
	return records.SaveResult{ID: id}, nil
}

func (f *fakeStore) status(token string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[EntityType] {
		if row["token"] == token {
			return row["status"]
		}
	}
	return ""
}

func seedAccount(t *testing.T, store *fakeStore, username, password, role, grants string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	store.put(UsersType, map[string]string{
		"username":    username,
		"password":    string(hash),
		"role":        role,
		"permissions": grants,
	})
}

func newTestManager(t *testing.T) (*Manager, *fakeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := newFakeStore()
	seedAccount(t, store, "bendahara", "bendahara123", "bendahara", "")
	return NewManager(store, NewTokenCache(client, time.Minute), nil), store, mr
}

func TestLoginCreatesActiveSession(t *testing.T) {
	m, store, mr := newTestManager(t)

	sess, err := m.Login(context.Background(), "bendahara", "bendahara123")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, sess.Token, sess.User.Token)
	assert.Equal(t, "bendahara", sess.User.Role)
	assert.Equal(t, StatusActive, store.status(sess.Token))
	assert.True(t, mr.Exists(cachePrefix+sess.Token))
}

func TestLoginRejectsBadCredentialsGenerically(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Login(ctx, "bendahara", "salah")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = m.Login(ctx, "tidakada", "bendahara123")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = m.Login(ctx, "", "")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginCarriesGrants(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedAccount(t, store, "ustadz", "rahasia", "staf", `[{"id":"/kesantrian/kamar","access":"edit"}]`)

	sess, err := m.Login(context.Background(), "ustadz", "rahasia")
	require.NoError(t, err)
	require.Len(t, sess.User.Grants, 1)

	snap, err := m.Lookup(context.Background(), sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "/kesantrian/kamar", snap.Grants[0].TargetID)
}

func TestLogoutRevokesAndEvicts(t *testing.T) {
	m, store, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, sess.Token))
	assert.Equal(t, StatusRevoked, store.status(sess.Token))
	assert.False(t, mr.Exists(cachePrefix+sess.Token))

	_, err = m.Lookup(ctx, sess.Token)
	assert.ErrorIs(t, err, shared.ErrSessionNotActive)

	assert.NoError(t, m.Logout(ctx, sess.Token), "second logout is harmless")
	assert.NoError(t, m.Logout(ctx, "unknown"))
}

func TestRevokeDuringLookupIsNotCachedBack(t *testing.T) {
	m, store, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)
	mr.FlushAll()

	paused := make(chan struct{})
	resume := make(chan struct{})
	var first atomic.Bool
	store.mu.Lock()
	store.afterFind = func() {
		if first.CompareAndSwap(false, true) {
			close(paused)
			<-resume
		}
	}
	store.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := m.Lookup(ctx, sess.Token)
		done <- err
	}()

	<-paused
	require.NoError(t, m.Revoke(ctx, sess.Token))
	close(resume)

	assert.ErrorIs(t, <-done, shared.ErrSessionNotActive)
	assert.Equal(t, StatusRevoked, store.status(sess.Token))
	assert.False(t, mr.Exists(cachePrefix+sess.Token), "revoked token written back to cache")

	_, err = m.Lookup(ctx, sess.Token)
	assert.ErrorIs(t, err, shared.ErrSessionNotActive)
}

func TestTokenCacheRefusesRevokedTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewTokenCache(client, time.Minute)
	ctx := context.Background()

	snap := Snapshot{Token: "tok-1", Username: "bendahara"}
	require.NoError(t, cache.Set(ctx, snap))
	got, ok, err := cache.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bendahara", got.Username)

	require.NoError(t, cache.MarkRevoked(ctx, "tok-1"))
	assert.False(t, mr.Exists(cachePrefix+"tok-1"))
	assert.ErrorIs(t, cache.Set(ctx, snap), errTokenRevoked)

	// entri yang tersisa tetap tidak terbaca selama marker hidup
	require.NoError(t, mr.Set(cachePrefix+"tok-1", `{"token":"tok-1"}`))
	_, ok, err = cache.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl := mr.TTL(revokedPrefix + "tok-1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
}

func TestRevokeUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.ErrorIs(t, m.Revoke(context.Background(), "unknown"), shared.ErrNotFound)
}

func TestLookupReadsThroughCache(t *testing.T) {
	m, store, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)
	mr.FlushAll()

	before := store.finds
	snap, err := m.Lookup(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "bendahara", snap.Username)
	assert.Equal(t, before+1, store.finds)

	_, err = m.Lookup(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, before+1, store.finds, "second lookup served from cache")
}

func TestLookupWithoutCache(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "bendahara", "bendahara123", "bendahara", "")
	m := NewManager(store, nil, nil)
	ctx := context.Background()

	sess, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)
	snap, err := m.Lookup(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, snap.Token)

	store.findErr = errors.New("db down")
	_, err = m.Lookup(ctx, sess.Token)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrSessionNotActive)
}

func TestMultipleLoginsStayIndependent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)
	second, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	require.NoError(t, m.Revoke(ctx, first.Token))
	_, err = m.Lookup(ctx, second.Token)
	assert.NoError(t, err)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Token, list[0].Token, "newest first")
	assert.False(t, list[1].Active())
}

func TestExpireOlderThan(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	base := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	old, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(10 * time.Hour) }
	fresh, err := m.Login(ctx, "bendahara", "bendahara123")
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(13 * time.Hour) }
	n, err := m.ExpireOlderThan(ctx, 12*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusRevoked, store.status(old.Token))
	assert.Equal(t, StatusActive, store.status(fresh.Token))
}
