package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FailedNotification は再送待ちとして保存する通知失敗レコード。
type FailedNotification struct {
	Target   string
	Payload  map[string]any
	Error    string
	Attempts int
}

// FailedNotificationRepository は通知失敗を failed_notifications コレクションへ保存する。
type FailedNotificationRepository struct {
	collection *mongo.Collection
}

// NewFailedNotificationRepository はコレクションを束縛したリポジトリを返す。
func NewFailedNotificationRepository(db *mongo.Database, collection string) *FailedNotificationRepository {
	return &FailedNotificationRepository{collection: db.Collection(collection)}
}

// Record は失敗内容を pending 状態で挿入する。
func (r *FailedNotificationRepository) Record(ctx context.Context, failure FailedNotification) error {
	now := time.Now().UTC()
	doc := bson.M{
		"target":      failure.Target,
		"payload":     failure.Payload,
		"error":       failure.Error,
		"attempts":    failure.Attempts,
		"status":      "pending",
		"createdAt":   now,
		"lastTriedAt": now,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return translateError(err, "insert failed notification")
	}
	return nil
}

// EnsureIndexes は再送ジョブが pending を古い順に拾うためのインデックスを作成する。
func (r *FailedNotificationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("idx_failed_status_created"),
	})
	if err != nil {
		return translateError(err, "create failed notification indexes")
	}
	return nil
}
