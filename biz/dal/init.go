package dal

import (
	"riskguard/biz/dal/kafka"
	"riskguard/biz/dal/pg"
	"riskguard/biz/dal/redis"
)

func Init() {
	pg.Init()
	redis.Init()
	kafka.Init()
}
