package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/models"
)

func TestActivityLogRepositoryFilters(t *testing.T) {
	db := setupTestDB(t, &models.ActivityLog{})
	repo := NewActivityLogRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	student := func(id uint) *uint { return &id }
	entries := []models.ActivityLog{
		{ActorID: 1, ActorRole: "admin", Action: "credits.top_up", EntityType: "credit_account", EntityID: student(10), Metadata: datatypes.JSONMap{"amount": 5}, CreatedAt: base},
		{ActorID: 2, ActorRole: "teacher", Action: "credits.top_up", EntityType: "credit_account", EntityID: student(11), CreatedAt: base.Add(time.Hour)},
		{ActorID: 2, ActorRole: "teacher", Action: "credits.top_up", EntityType: "credit_account", EntityID: student(10), CreatedAt: base.Add(2 * time.Hour)},
	}
	for i := range entries {
		require.NoError(t, repo.Create(ctx, &entries[i]))
	}

	all, total, err := repo.List(ctx, ActivityLogFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, entries[2].ID, all[0].ID, "newest first")

	forStudent, total, err := repo.List(ctx, ActivityLogFilter{EntityType: "credit_account", EntityID: student(10)})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, forStudent, 2)

	since := base.Add(30 * time.Minute)
	byTeacher, total, err := repo.List(ctx, ActivityLogFilter{ActorID: student(2), Since: &since, Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, byTeacher, 1)
	require.Equal(t, entries[1].ID, byTeacher[0].ID)
}
