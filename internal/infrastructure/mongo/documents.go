package mongo

import (
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReferenceDocument はアップロード済みファイルへの参照を表す埋め込みドキュメント。
type ReferenceDocument struct {
	URL         string `bson:"url"`
	Filename    string `bson:"filename,omitempty"`
	StorageID   string `bson:"storageId,omitempty"`
	Kind        string `bson:"kind,omitempty"`
	ContentType string `bson:"contentType,omitempty"`
}

// ApplicationDocument は MongoDB 上の申請ドラフトのスキーマ。
// 旧フロントエンドが書き込んでいた fullname / photoUrl / documentUrl(s) も読み取り専用で保持する。
type ApplicationDocument struct {
	ID          primitive.ObjectID  `bson:"_id"`
	UserID      string              `bson:"userId,omitempty"`
	Stream      string              `bson:"stream,omitempty"`
	Program     string              `bson:"program,omitempty"`
	FullName    string              `bson:"fullName,omitempty"`
	Email       string              `bson:"email,omitempty"`
	Photo       *ReferenceDocument  `bson:"photo,omitempty"`
	Documents   []ReferenceDocument `bson:"documents"`
	Status      string              `bson:"status"`
	CreatedAt   time.Time           `bson:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt"`
	SubmittedAt *time.Time          `bson:"submittedAt,omitempty"`

	LegacyFullName     string   `bson:"fullname,omitempty"`
	LegacyPhotoURL     string   `bson:"photoUrl,omitempty"`
	LegacyDocumentURL  string   `bson:"documentUrl,omitempty"`
	LegacyDocumentURLs []string `bson:"documentUrls,omitempty"`
}

// legacyFields は移行時に $unset する旧フィールド名。
var legacyFields = []string{"fullname", "photoUrl", "documentUrl", "documentUrls"}

// hasLegacyFields は旧スキーマの痕跡が残っているかを判定する。
func (d ApplicationDocument) hasLegacyFields() bool {
	return d.LegacyFullName != "" || d.LegacyPhotoURL != "" || d.LegacyDocumentURL != "" ||
		len(d.LegacyDocumentURLs) > 0 || (d.Status != string(domain.StatusDraft) && d.Status != string(domain.StatusSubmitted))
}

// mapApplicationDocument は Mongo ドキュメントをドメインの Application へ変換する。
// 正規フィールドが空の場合のみ旧フィールドへフォールバックする。
func mapApplicationDocument(doc ApplicationDocument) *domain.Application {
	app := &domain.Application{
		ID:          doc.ID.Hex(),
		UserID:      doc.UserID,
		Stream:      domain.Stream(strings.ToLower(strings.TrimSpace(doc.Stream))),
		Program:     doc.Program,
		FullName:    doc.FullName,
		Email:       doc.Email,
		Status:      domain.NormalizeStatus(doc.Status),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		SubmittedAt: doc.SubmittedAt,
		Documents:   make([]domain.Reference, 0, len(doc.Documents)),
	}
	if app.FullName == "" {
		app.FullName = doc.LegacyFullName
	}

	if doc.Photo != nil && strings.TrimSpace(doc.Photo.URL) != "" {
		photo := mapReferenceDocument(*doc.Photo)
		app.Photo = &photo
	} else if url := strings.TrimSpace(doc.LegacyPhotoURL); url != "" {
		app.Photo = &domain.Reference{URL: url, Kind: domain.KindImage}
	}

	for _, ref := range doc.Documents {
		app.Documents = append(app.Documents, mapReferenceDocument(ref))
	}
	if len(app.Documents) == 0 {
		legacy := doc.LegacyDocumentURLs
		if len(legacy) == 0 && doc.LegacyDocumentURL != "" {
			legacy = []string{doc.LegacyDocumentURL}
		}
		for _, url := range legacy {
			if url = strings.TrimSpace(url); url != "" {
				app.Documents = append(app.Documents, domain.Reference{URL: url, Kind: domain.KindRaw})
			}
		}
	}
	return app
}

func mapReferenceDocument(doc ReferenceDocument) domain.Reference {
	return domain.Reference{
		URL:         doc.URL,
		Filename:    doc.Filename,
		StorageID:   doc.StorageID,
		Kind:        domain.ReferenceKind(doc.Kind),
		ContentType: doc.ContentType,
	}
}

func mapDomainReference(ref domain.Reference) ReferenceDocument {
	return ReferenceDocument{
		URL:         ref.URL,
		Filename:    ref.Filename,
		StorageID:   ref.StorageID,
		Kind:        string(ref.Kind),
		ContentType: ref.ContentType,
	}
}

func mapDomainReferences(refs []domain.Reference) []ReferenceDocument {
	out := make([]ReferenceDocument, 0, len(refs))
	for _, ref := range refs {
		out = append(out, mapDomainReference(ref))
	}
	return out
}

// mapDomainApplication はドメインの Application を新規挿入用ドキュメントへ変換する。
func mapDomainApplication(app *domain.Application, id primitive.ObjectID) ApplicationDocument {
	doc := ApplicationDocument{
		ID:          id,
		UserID:      app.UserID,
		Stream:      string(app.Stream),
		Program:     app.Program,
		FullName:    app.FullName,
		Email:       app.Email,
		Documents:   mapDomainReferences(app.Documents),
		Status:      string(app.Status),
		CreatedAt:   app.CreatedAt,
		UpdatedAt:   app.UpdatedAt,
		SubmittedAt: app.SubmittedAt,
	}
	if !app.Photo.IsZero() {
		photo := mapDomainReference(*app.Photo)
		doc.Photo = &photo
	}
	return doc
}

// buildPatchUpdate は部分更新を $set / $push の更新ドキュメントへ変換する。
// documents の置き換えと追記が同時に指定された場合は結合した配列で $set する。
func buildPatchUpdate(patch domain.Patch, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if patch.UserID != nil {
		set["userId"] = *patch.UserID
	}
	if patch.Stream != nil {
		set["stream"] = string(*patch.Stream)
	}
	if patch.Program != nil {
		set["program"] = *patch.Program
	}
	if patch.FullName != nil {
		set["fullName"] = *patch.FullName
	}
	if patch.Email != nil {
		set["email"] = *patch.Email
	}
	if patch.Photo != nil {
		set["photo"] = mapDomainReference(*patch.Photo)
	}

	update := bson.M{}
	switch {
	case patch.ReplaceDocuments:
		combined := append(append([]domain.Reference{}, patch.Documents...), patch.AppendDocuments...)
		set["documents"] = mapDomainReferences(combined)
	case len(patch.AppendDocuments) > 0:
		update["$push"] = bson.M{"documents": bson.M{"$each": mapDomainReferences(patch.AppendDocuments)}}
	}
	update["$set"] = set
	return update
}

// buildCanonicalSet は移行時に正規フィールドをまとめて書き戻すための $set を作る。
func buildCanonicalSet(app *domain.Application) bson.M {
	set := bson.M{
		"fullName":  app.FullName,
		"documents": mapDomainReferences(app.Documents),
		"status":    string(app.Status),
	}
	if !app.Photo.IsZero() {
		set["photo"] = mapDomainReference(*app.Photo)
	}
	return set
}

// nonEmpty は「存在し、null でも空文字でもない」を表すクエリ条件。
func nonEmpty() bson.M {
	return bson.M{"$exists": true, "$nin": bson.A{nil, ""}}
}

// finalizeFilter は提出可能な Draft だけに一致するフィルタを返す。
// 必須項目の判定を書き込みと同じ原子操作に含めることで、並行更新との競合を防ぐ。
func finalizeFilter(id primitive.ObjectID) bson.M {
	streams := make(bson.A, 0, len(domain.Streams))
	for _, s := range domain.Streams {
		streams = append(streams, string(s))
	}
	return bson.M{
		"_id":     id,
		"status":  bson.M{"$ne": string(domain.StatusSubmitted)},
		"stream":  bson.M{"$in": streams},
		"program": nonEmpty(),
		"email":   nonEmpty(),
		"$and": bson.A{
			bson.M{"$or": bson.A{bson.M{"fullName": nonEmpty()}, bson.M{"fullname": nonEmpty()}}},
			bson.M{"$or": bson.A{bson.M{"photo.url": nonEmpty()}, bson.M{"photoUrl": nonEmpty()}}},
			bson.M{"$or": bson.A{
				bson.M{"documents": bson.M{"$elemMatch": bson.M{"url": nonEmpty()}}},
				bson.M{"documentUrl": nonEmpty()},
				bson.M{"documentUrls.0": bson.M{"$exists": true}},
			}},
		},
	}
}
