package main

import (
	"context"
	"log"

	"github.com/ftu-admissions/admission-api/internal/config"
	"github.com/ftu-admissions/admission-api/internal/logger"
	"github.com/ftu-admissions/admission-api/internal/server"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	appLogger := logger.NewStructured(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync(appLogger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var client *mongo.Client
	if cfg.StoreDriver == config.DriverMongo {
		clientOptions := options.Client().ApplyURI(cfg.MongoURI).SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
		client, err = mongo.Connect(ctx, clientOptions)
		if err != nil {
			log.Fatalf("MongoDB 接続に失敗しました: %v", err)
		}
	}

	app, err := server.New(ctx, cfg, client, appLogger)
	if err != nil {
		log.Fatalf("サーバー初期化に失敗: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Fatalf("サーバー起動に失敗: %v", err)
	}
}
