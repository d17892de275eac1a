package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// both contracts, one suite: every backend must pass the same properties.

type backend interface {
	StateStore
	InstallationStore
}

func backends(t *testing.T) map[string]backend {
	t.Helper()

	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bellhop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]backend{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestConsume_SingleUse(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := OAuthState{
				State:     "tok-1",
				CreatedAt: time.Now(),
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}
			require.NoError(t, b.Put(ctx, st))

			ok, err := b.Consume(ctx, "tok-1")
			require.NoError(t, err)
			assert.True(t, ok)

			// Second consume must fail even though the token was valid once.
			ok, err = b.Consume(ctx, "tok-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestConsume_UnknownToken(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := b.Consume(context.Background(), "never-stored")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestConsume_ExpiredToken(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := OAuthState{
				State:     "tok-old",
				CreatedAt: time.Now().Add(-20 * time.Minute),
				ExpiresAt: time.Now().Add(-10 * time.Minute),
			}
			require.NoError(t, b.Put(ctx, st))

			ok, err := b.Consume(ctx, "tok-old")
			require.NoError(t, err)
			assert.False(t, ok, "expired token must not validate")
		})
	}
}

func TestConsume_ConcurrentExactlyOne(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := OAuthState{
				State:     "tok-race",
				CreatedAt: time.Now(),
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}
			require.NoError(t, b.Put(ctx, st))

			const callers = 16
			var wg sync.WaitGroup
			results := make(chan bool, callers)
			errs := make(chan error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := b.Consume(ctx, "tok-race")
					if err != nil {
						errs <- err
						return
					}
					results <- ok
				}()
			}
			wg.Wait()
			close(results)
			close(errs)

			for err := range errs {
				t.Errorf("concurrent consume error: %v", err)
			}
			wins := 0
			for ok := range results {
				if ok {
					wins++
				}
			}
			assert.Equal(t, 1, wins, "exactly one racing consume must succeed")
		})
	}
}

func TestSave_UpsertNoDuplicates(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := &Installation{
				TeamID:      "T1",
				BotToken:    "xoxb-old",
				BotUserID:   "B1",
				Scopes:      []string{"chat:write"},
				InstalledAt: time.Now().Add(-time.Hour),
			}
			require.NoError(t, b.Save(ctx, first))

			second := &Installation{
				TeamID:      "T1",
				BotToken:    "xoxb-new",
				BotUserID:   "B1",
				Scopes:      []string{"chat:write", "commands"},
				InstalledAt: time.Now(),
			}
			require.NoError(t, b.Save(ctx, second))

			got, err := b.Find(ctx, "T1", "")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "xoxb-new", got.BotToken)
			assert.Equal(t, []string{"chat:write", "commands"}, got.Scopes)
		})
	}
}

func TestFind_CompositeKeySeparatesEnterprises(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, b.Save(ctx, &Installation{
				TeamID: "T1", BotToken: "xoxb-plain", BotUserID: "B1", InstalledAt: time.Now(),
			}))
			require.NoError(t, b.Save(ctx, &Installation{
				TeamID: "T1", EnterpriseID: "E1", BotToken: "xoxb-grid", BotUserID: "B1", InstalledAt: time.Now(),
			}))

			plain, err := b.Find(ctx, "T1", "")
			require.NoError(t, err)
			require.NotNil(t, plain)
			assert.Equal(t, "xoxb-plain", plain.BotToken)

			grid, err := b.Find(ctx, "T1", "E1")
			require.NoError(t, err)
			require.NotNil(t, grid)
			assert.Equal(t, "xoxb-grid", grid.BotToken)
		})
	}
}

func TestFind_MissingReturnsNil(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := b.Find(context.Background(), "T-none", "")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestDelete_RemovesInstallation(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Save(ctx, &Installation{
				TeamID: "T1", BotToken: "xoxb-1", BotUserID: "B1", InstalledAt: time.Now(),
			}))
			require.NoError(t, b.Delete(ctx, "T1", ""))

			got, err := b.Find(ctx, "T1", "")
			require.NoError(t, err)
			assert.Nil(t, got)

			// Deleting again is not an error.
			require.NoError(t, b.Delete(ctx, "T1", ""))
		})
	}
}
