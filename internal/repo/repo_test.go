package repo

import (
	"context"
	"testing"
	"time"

	"github.com/KNICEX/volume-agent/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type RepoSuite struct {
	suite.Suite
	db *gorm.DB
}

func (s *RepoSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)
	// 内存库每个连接独立
	sqlDB, err := db.DB()
	require.NoError(s.T(), err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(s.T(), InitTables(db))
	s.db = db
}

func (s *RepoSuite) TestSessionRepo() {
	ctx := context.Background()
	r := NewSessionRepo(s.db)
	t := s.T()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Save(ctx, entity.Session{Id: "s1", Owner: "alice", Status: "created", CreatedAt: base}))
	require.NoError(t, r.Save(ctx, entity.Session{Id: "s2", Owner: "bob", Status: "created", CreatedAt: base.Add(time.Minute)}))

	end := base.Add(time.Hour)
	require.NoError(t, r.Save(ctx, entity.Session{Id: "s1", Owner: "alice", Status: "stopped", Cycles: 3, EndTime: &end, CreatedAt: base}))

	got, err := r.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "stopped", got.Status)
	assert.Equal(t, 3, got.Cycles)
	require.NotNil(t, got.EndTime)

	_, err = r.FindByID(ctx, "missing")
	assert.True(t, IsNotFound(err))

	alice, err := r.FindByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 1)

	all, err := r.FindByOwner(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s2", all[0].Id)
}

func (s *RepoSuite) TestTradeRepo() {
	ctx := context.Background()
	r := NewTradeRepo(s.db)
	t := s.T()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, r.Create(ctx, entity.Trade{
			Id:        id,
			SessionId: "s1",
			Status:    entity.TradeStatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, r.Create(ctx, entity.Trade{Id: "other", SessionId: "s2", CreatedAt: base}))

	recent, err := r.FindRecent(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t3", recent[0].Id)
	assert.Equal(t, "t2", recent[1].Id)

	all, err := r.FindRecent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func (s *RepoSuite) TestFeeRepo() {
	ctx := context.Background()
	r := NewFeeRepo(s.db)
	t := s.T()

	id, err := r.Create(ctx, entity.FeeCollection{UserId: "alice", Amount: "0.002", Status: entity.FeeStatusCollected, TxId: "tx"})
	require.NoError(t, err)
	assert.Positive(t, id)
	_, err = r.Create(ctx, entity.FeeCollection{UserId: "bob", Amount: "0.001", Status: entity.FeeStatusFailed})
	require.NoError(t, err)

	got, err := r.FindByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0.002", got[0].Amount)
}

func TestRepoSuite(t *testing.T) {
	suite.Run(t, new(RepoSuite))
}
