package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"riskguard/biz/model"
	"riskguard/conf"
)

var PostgresClient *pgxpool.Pool
var GormDB *gorm.DB

// sideColumnPresent is resolved once at startup instead of probing the schema
// on every reconcile cycle.
var sideColumnPresent bool

func Init() {
	pgConf := conf.GetConf().Postgres
	pool, err := pgxpool.New(context.Background(), pgConf.DSN)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to postgres: %v", err))
	}
	if err := pool.Ping(context.Background()); err != nil {
		panic(fmt.Sprintf("failed to ping postgres: %v", err))
	}
	PostgresClient = pool

	if err := InitGorm(); err != nil {
		panic(fmt.Sprintf("failed to init gorm: %v", err))
	}
	if err := AutoMigrate(); err != nil {
		panic(fmt.Sprintf("failed to auto migrate: %v", err))
	}
	sideColumnPresent = GormDB.Migrator().HasColumn(&model.Position{}, "position_side")
}

func InitGorm() error {
	pgConf := conf.GetConf().Postgres
	db, err := gorm.Open(postgres.Open(pgConf.DSN), &gorm.Config{})
	if err != nil {
		return err
	}
	GormDB = db
	return nil
}

func AutoMigrate() error {
	if GormDB == nil {
		return gorm.ErrInvalidDB
	}
	return GormDB.AutoMigrate(
		&model.Account{},
		&model.RiskConfig{},
		&model.Position{},
		&model.TransactionHistory{},
		&model.AccountSnapshot{},
		&model.TickerHistory{},
	)
}

func GetPool() *pgxpool.Pool {
	if PostgresClient == nil {
		panic("PostgresClient not initialized, call pg.Init() first")
	}
	return PostgresClient
}

// HasPositionSideColumn reports whether the positions table carries the
// side-discriminating column. Older schemas without it degrade position
// lookups to symbol-only.
func HasPositionSideColumn() bool {
	return sideColumnPresent
}
