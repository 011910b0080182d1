package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"riskguard/conf"
)

var log = zap.NewNop()

// Init builds the engine logger: JSON to a rotated file plus console output.
func Init() {
	hertzConf := conf.GetConf().Hertz

	level := zapcore.InfoLevel
	_ = level.Set(hertzConf.LogLevel)

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   hertzConf.LogFileName,
		MaxSize:    hertzConf.LogMaxSize,
		MaxBackups: hertzConf.LogMaxBackups,
		MaxAge:     hertzConf.LogMaxAge,
	})

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileWriter, level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level),
	)
	log = zap.New(core, zap.AddCaller())
}

func L() *zap.Logger {
	return log
}

func Sync() {
	_ = log.Sync()
}
