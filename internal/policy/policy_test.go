package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/reservation"
)

type countingLoader struct {
	calls    int
	policies map[int64]Policy
}

func (l *countingLoader) Load(_ context.Context, companyID int64) (Policy, error) {
	l.calls++
	p, ok := l.policies[companyID]
	if !ok {
		return Policy{}, ErrNoPolicy
	}
	return p, nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestServiceCachesPolicy(t *testing.T) {
	mr, client := newRedis(t)
	loader := &countingLoader{policies: map[int64]Policy{
		1: {CompanyID: 1, MakerChecker: true, Strictness: reservation.StrictnessSoft},
	}}
	svc := NewService(loader, client, time.Minute, Policy{Strictness: reservation.StrictnessHard}, nil)
	ctx := context.Background()

	on, err := svc.MakerChecker(ctx, 1)
	require.NoError(t, err)
	require.True(t, on)
	strict, err := svc.Strictness(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, reservation.StrictnessSoft, strict)
	require.Equal(t, 1, loader.calls)
	require.True(t, mr.Exists("o2c:policy:1"))

	require.NoError(t, svc.Invalidate(ctx, 1))
	_, err = svc.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, loader.calls)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("o2c:policy:1"))
}

func TestServiceFallsBackToDefaults(t *testing.T) {
	_, client := newRedis(t)
	loader := &countingLoader{policies: map[int64]Policy{}}
	svc := NewService(loader, client, time.Minute, Policy{MakerChecker: true}, nil)

	p, err := svc.Get(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, int64(9), p.CompanyID)
	require.True(t, p.MakerChecker)
	strict, err := svc.Strictness(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, reservation.StrictnessHard, strict)
}

func TestServiceWithoutRedis(t *testing.T) {
	loader := &countingLoader{policies: map[int64]Policy{2: {CompanyID: 2}}}
	svc := NewService(loader, nil, 0, Policy{}, nil)
	_, err := svc.Get(context.Background(), 2)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, loader.calls)
}

func TestStaticFollowsMutation(t *testing.T) {
	p := &Static{}
	check := p.MakerChecker
	on, err := check(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, on)
	strict, err := p.Strictness(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, reservation.StrictnessHard, strict)

	p.Policy.MakerChecker = true
	p.Policy.Strictness = reservation.StrictnessSoft
	on, err = check(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, on)
	strict, err = p.Strictness(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, reservation.StrictnessSoft, strict)
}
