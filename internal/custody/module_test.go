package custody

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/orbitax/custody/internal/custody/config"
	"github.com/orbitax/custody/internal/custody/settlement"
)

func newTestModuleConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		Database:    config.DatabaseConfig{DSN: "test"},
		Settlement: settlement.Config{
			BaseURL: "http://127.0.0.1:1",
			Timeout: 100 * time.Millisecond,
		},
		Engine: config.EngineConfig{
			TokenPepper:        "test-pepper",
			SettlementWorkers:  1,
			QueueCapacity:      8,
			StaleProcessingAge: time.Minute,
			StaleSweepInterval: time.Minute,
			MetricsAddr:        ":0",
		},
	}
}

func TestModuleStopLeavesInjectedConnectionsOpen(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	module, err := NewModule(ModuleOptions{
		Config:   newTestModuleConfig(),
		Logger:   zap.NewNop(),
		Database: db,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, module.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, module.Stop(stopCtx))

	// The caller handed the connection in and still owns it afterwards.
	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}
