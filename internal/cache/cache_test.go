package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jacob-Jan/proof-of-heart/internal/models"
)

func TestGetCharitiesCachesPerKey(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	loader := func() ([]models.CharityProfile, error) {
		calls++
		return []models.CharityProfile{{Pubkey: "pk"}}, nil
	}

	first, err := c.GetCharities("prod", loader)
	require.NoError(t, err)
	second, err := c.GetCharities("prod", loader)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	// a different relay mode never shares entries
	_, err = c.GetCharities("test", loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetCharitiesLoaderError(t *testing.T) {
	c := New(time.Minute)
	boom := errors.New("relay down")

	_, err := c.GetCharities("prod", func() ([]models.CharityProfile, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// a failed load is not cached
	charities, err := c.GetCharities("prod", func() ([]models.CharityProfile, error) {
		return []models.CharityProfile{{Pubkey: "pk"}}, nil
	})
	require.NoError(t, err)
	assert.Len(t, charities, 1)
}

func TestInvalidateForcesReload(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	loader := func() ([]models.CharityProfile, error) {
		calls++
		return nil, nil
	}

	_, _ = c.GetCharities("prod", loader)
	c.Invalidate()
	_, _ = c.GetCharities("prod", loader)
	assert.Equal(t, 2, calls)
}

func TestGetInsights(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	loader := func() (*models.Insights, error) {
		calls++
		return &models.Insights{TotalCharities: 7}, nil
	}

	first, err := c.GetInsights(loader)
	require.NoError(t, err)
	second, err := c.GetInsights(loader)
	require.NoError(t, err)

	assert.Equal(t, 7, first.TotalCharities)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	c.Invalidate()
	_, err = c.GetInsights(loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExpiredEntryReloads(t *testing.T) {
	c := New(10 * time.Millisecond)
	calls := 0
	loader := func() ([]models.CharityProfile, error) {
		calls++
		return nil, nil
	}

	_, _ = c.GetCharities("prod", loader)
	time.Sleep(20 * time.Millisecond)
	_, _ = c.GetCharities("prod", loader)
	assert.Equal(t, 2, calls)
}
