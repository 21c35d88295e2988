package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Guizzs26/go-crm-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleSaleJobs(t *testing.T) {
	sales := []models.Sale{
		{ID: "s1", IdempotencyKey: "k1", Attempts: 1, MaxAttempts: 3},
		{ID: "s2", IdempotencyKey: "k2", MaxAttempts: 3},
		{ID: "s3", IdempotencyKey: "k3", MaxAttempts: 3},
	}
	timeout := errors.New("conn reset by peer")

	load := func(s models.Sale) (*models.SaleBundle, error) {
		switch s.ID {
		case "s2":
			return nil, fmt.Errorf("load parties: %w", timeout)
		case "s3":
			return nil, fmt.Errorf("load card: %w", ErrNotFound)
		}
		return &models.SaleBundle{Sale: s}, nil
	}

	jobs, release, err := assembleSaleJobs(sales, "claim-1", load)

	require.ErrorIs(t, err, timeout)
	assert.Equal(t, []string{"s2"}, release, "store errors go back to pending")

	require.Len(t, jobs, 2)
	assert.Equal(t, "s1", jobs[0].ID)
	assert.Equal(t, "claim-1", jobs[0].ClaimID)
	assert.Equal(t, models.JobSale, jobs[0].Kind)
	assert.Equal(t, 1, jobs[0].Attempts)
	require.NotNil(t, jobs[0].Sale)

	// missing data is an item-level failure the worker records
	assert.Equal(t, "s3", jobs[1].ID)
	assert.Nil(t, jobs[1].Sale)
}

func TestAssembleSaleJobs_AllLoaded(t *testing.T) {
	sales := []models.Sale{{ID: "s1"}, {ID: "s2"}}
	jobs, release, err := assembleSaleJobs(sales, "c", func(s models.Sale) (*models.SaleBundle, error) {
		return &models.SaleBundle{Sale: s}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, release)
	assert.Len(t, jobs, 2)
}
