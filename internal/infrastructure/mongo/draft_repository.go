package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DraftRepository は申請ドラフト集約を MongoDB で扱う実装リポジトリ。
type DraftRepository struct {
	applications *mongo.Collection
}

var _ application.DraftRepository = (*DraftRepository)(nil)

// NewDraftRepository は申請コレクションを束縛したリポジトリを構築する。
func NewDraftRepository(db *mongo.Database, collection string) *DraftRepository {
	return &DraftRepository{applications: db.Collection(collection)}
}

// Create は新しい ObjectID を採番してドラフトを挿入する。採番した ID は app に書き戻す。
func (r *DraftRepository) Create(ctx context.Context, app *domain.Application) error {
	if app == nil {
		return errors.New("application payload is nil")
	}
	id := primitive.NewObjectID()
	if _, err := r.applications.InsertOne(ctx, mapDomainApplication(app, id)); err != nil {
		return translateError(err, "insert application")
	}
	app.ID = id.Hex()
	return nil
}

// FindByID は ID を ObjectID 化して単一ドラフトを復元する。不正な ID は NotFound として扱う。
func (r *DraftRepository) FindByID(ctx context.Context, id string) (*domain.Application, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var doc ApplicationDocument
	if err := r.applications.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("application", id)
		}
		return nil, translateError(err, "find application")
	}
	return mapApplicationDocument(doc), nil
}

// Update は Draft 状態のドキュメントにだけ一致するフィルタで部分更新する。
// 一致しなかった場合は存在確認をして NotFound と Conflict を区別する。
func (r *DraftRepository) Update(ctx context.Context, id string, patch domain.Patch, now time.Time) (*domain.Application, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"_id": objectID, "status": bson.M{"$ne": string(domain.StatusSubmitted)}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc ApplicationDocument
	err = r.applications.FindOneAndUpdate(ctx, filter, buildPatchUpdate(patch, now), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, apperror.Conflict("application has already been submitted")
	}
	if err != nil {
		return nil, translateError(err, "update application")
	}
	return mapApplicationDocument(doc), nil
}

// Finalize は必須項目が揃った Draft のみを Submitted へ遷移させる compare-and-swap。
func (r *DraftRepository) Finalize(ctx context.Context, id string, now time.Time) (*domain.Application, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	update := bson.M{"$set": bson.M{
		"status":      string(domain.StatusSubmitted),
		"submittedAt": now,
		"updatedAt":   now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc ApplicationDocument
	err = r.applications.FindOneAndUpdate(ctx, finalizeFilter(objectID), update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, application.ErrFinalizeRejected
	}
	if err != nil {
		return nil, translateError(err, "finalize application")
	}
	return mapApplicationDocument(doc), nil
}

// MigrateLegacyFields は旧フロントエンドのフィールド名で保存されたドキュメントを正規スキーマへ書き換える。
// 起動時に一度だけ呼び出す想定で、処理件数を返す。
func (r *DraftRepository) MigrateLegacyFields(ctx context.Context) (int, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"fullname": bson.M{"$exists": true}},
		bson.M{"photoUrl": bson.M{"$exists": true}},
		bson.M{"documentUrl": bson.M{"$exists": true}},
		bson.M{"documentUrls": bson.M{"$exists": true}},
		bson.M{"status": bson.M{"$nin": bson.A{string(domain.StatusDraft), string(domain.StatusSubmitted)}}},
	}}

	cursor, err := r.applications.Find(ctx, filter)
	if err != nil {
		return 0, translateError(err, "find legacy applications")
	}
	defer cursor.Close(ctx)

	unset := bson.M{}
	for _, field := range legacyFields {
		unset[field] = ""
	}

	migrated := 0
	for cursor.Next(ctx) {
		var doc ApplicationDocument
		if err := cursor.Decode(&doc); err != nil {
			return migrated, fmt.Errorf("decode legacy application: %w", err)
		}
		if !doc.hasLegacyFields() {
			continue
		}
		app := mapApplicationDocument(doc)
		update := bson.M{"$set": buildCanonicalSet(app), "$unset": unset}
		if _, err := r.applications.UpdateByID(ctx, doc.ID, update); err != nil {
			return migrated, translateError(err, "migrate application")
		}
		migrated++
	}
	if err := cursor.Err(); err != nil {
		return migrated, translateError(err, "iterate legacy applications")
	}
	return migrated, nil
}

// EnsureIndexes は所有者検索用のインデックスを作成する。
func (r *DraftRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.applications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("idx_application_user_created"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_application_status"),
		},
	})
	if err != nil {
		return translateError(err, "create application indexes")
	}
	return nil
}

func parseID(id string) (primitive.ObjectID, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, apperror.NotFound("application", id)
	}
	return objectID, nil
}

// translateError はドライバのエラーを共通エラー分類へ変換する。
func translateError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return apperror.Timeout(op+" timed out", err)
	case errors.Is(err, context.Canceled):
		return apperror.NetworkError(op+" was cancelled", err)
	case mongo.IsNetworkError(err):
		return apperror.NetworkError(op+" failed to reach the database", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
