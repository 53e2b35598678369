package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	mongodoc "github.com/ftu-admissions/admission-api/internal/infrastructure/mongo"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type seedOptions struct {
	envName         string
	draftCount      int
	submittedCount  int
	legacyCount     int
	dropCollections bool
	randomSeed      int64
}

type collections struct {
	applications        string
	failedNotifications string
}

var applicantNames = []string{
	"Ayesha Khan", "Bilal Ahmed", "Sara Malik", "Usman Tariq", "Hina Raza",
	"Omar Farooq", "Zainab Ali", "Hamza Iqbal", "Maryam Siddiqui", "Ali Hassan",
}

var mediaBase = "https://media.example.com/ftu"

func main() {
	opts := parseFlags()

	loadEnvFiles(opts.envName)

	cfg := collections{
		applications:        envOrDefault("APPLICATION_COLLECTION", "applications"),
		failedNotifications: envOrDefault("FAILED_NOTIFICATION_COLLECTION", "failed_notifications"),
	}
	mongoURI := envOrDefault("MONGO_URI", "mongodb://localhost:27017")
	dbName := envOrDefault("MONGO_DB", "admissions")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Fatalf("MongoDB 接続に失敗しました: %v", err)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	db := client.Database(dbName)

	if opts.dropCollections {
		for _, name := range []string{cfg.applications, cfg.failedNotifications} {
			if err := db.Collection(name).Drop(ctx); err != nil {
				// Drop は存在しない場合も err を返すので warning ログにとどめる
				log.Printf("WARN: コレクション %s の削除に失敗: %v", name, err)
			}
		}
		log.Printf("既存コレクションを削除しました")
	}

	repo := mongodoc.NewDraftRepository(db, cfg.applications)
	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Fatalf("インデックス作成に失敗しました: %v", err)
	}
	if err := mongodoc.NewFailedNotificationRepository(db, cfg.failedNotifications).EnsureIndexes(ctx); err != nil {
		log.Fatalf("インデックス作成に失敗しました: %v", err)
	}

	rng := rand.New(rand.NewSource(opts.randomSeed))
	now := time.Now().UTC()
	docs := generateApplications(rng, now, opts.draftCount, opts.submittedCount)
	docs = append(docs, generateLegacyApplications(rng, now, opts.legacyCount)...)
	if len(docs) > 0 {
		if _, err := db.Collection(cfg.applications).InsertMany(ctx, docs); err != nil {
			log.Fatalf("申請データの投入に失敗しました: %v", err)
		}
	}

	migrated, err := repo.MigrateLegacyFields(ctx)
	if err != nil {
		log.Fatalf("旧フィールドの移行に失敗しました: %v", err)
	}

	log.Printf("投入完了: drafts=%d submitted=%d legacy=%d migrated=%d seed=%d",
		opts.draftCount, opts.submittedCount, opts.legacyCount, migrated, opts.randomSeed)
}

func parseFlags() seedOptions {
	var opts seedOptions
	flag.StringVar(&opts.envName, "env", "local", "env ディレクトリ内の env ファイル名 (例: local, staging)")
	flag.IntVar(&opts.draftCount, "drafts", 10, "生成する下書き数")
	flag.IntVar(&opts.submittedCount, "submitted", 5, "生成する提出済み申請数")
	flag.IntVar(&opts.legacyCount, "legacy", 3, "旧スキーマで生成する申請数")
	flag.BoolVar(&opts.dropCollections, "drop", true, "既存コレクションを削除してから投入する")
	flag.Int64Var(&opts.randomSeed, "seed", time.Now().UnixNano(), "乱数シード（再現用）")
	flag.Parse()

	if opts.draftCount < 0 || opts.submittedCount < 0 || opts.legacyCount < 0 {
		log.Fatal("件数は 0 以上を指定してください")
	}
	return opts
}

// loadEnvFiles は shared.env と <env>.env を順に読み込む。見つからないファイルは無視する。
func loadEnvFiles(envName string) {
	base := filepath.Clean(filepath.Join("..", "env"))
	for _, file := range []string{
		filepath.Join(base, "shared.env"),
		filepath.Join(base, fmt.Sprintf("%s.env", envName)),
		".env",
	} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			log.Printf("WARN: %s の読み込みに失敗: %v", file, err)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// generateApplications は下書きと提出済み申請を作る。下書きは段階ごとにばらつかせる。
func generateApplications(rng *rand.Rand, now time.Time, drafts, submitted int) []interface{} {
	docs := make([]interface{}, 0, drafts+submitted)
	for i := 0; i < drafts+submitted; i++ {
		id := primitive.NewObjectID()
		stream := domain.Streams[rng.Intn(len(domain.Streams))]
		programs := domain.ProgramsFor(stream)
		name := applicantNames[rng.Intn(len(applicantNames))]
		created := now.Add(-time.Duration(rng.Intn(30*24)) * time.Hour)

		doc := mongodoc.ApplicationDocument{
			ID:        id,
			UserID:    fmt.Sprintf("seed-user-%03d", i),
			Status:    string(domain.StatusDraft),
			Documents: []mongodoc.ReferenceDocument{},
			CreatedAt: created,
			UpdatedAt: created,
		}

		// 提出済みは全段階を満たす。下書きは 0〜4 段階目までをランダムに埋める
		stages := 4
		if i < drafts {
			stages = rng.Intn(5)
		}
		if stages >= 1 {
			doc.Stream = string(stream)
		}
		if stages >= 2 {
			doc.Program = programs[rng.Intn(len(programs))]
		}
		if stages >= 3 {
			doc.FullName = name
			doc.Email = emailFor(name, i)
		}
		if stages >= 4 {
			doc.Photo = &mongodoc.ReferenceDocument{
				URL:         fmt.Sprintf("%s/photos/%s/photo.png", mediaBase, id.Hex()),
				Filename:    "photo.png",
				StorageID:   fmt.Sprintf("ftu/photos/%s/photo.png", id.Hex()),
				Kind:        string(domain.KindImage),
				ContentType: "image/png",
			}
			doc.Documents = append(doc.Documents, mongodoc.ReferenceDocument{
				URL:         fmt.Sprintf("%s/docs/%s/transcript.pdf", mediaBase, id.Hex()),
				Filename:    "transcript.pdf",
				StorageID:   fmt.Sprintf("ftu/docs/%s/transcript.pdf", id.Hex()),
				Kind:        string(domain.KindRaw),
				ContentType: "application/pdf",
			})
		}
		if i >= drafts {
			submittedAt := created.Add(time.Duration(1+rng.Intn(48)) * time.Hour)
			doc.Status = string(domain.StatusSubmitted)
			doc.SubmittedAt = &submittedAt
			doc.UpdatedAt = submittedAt
		}
		docs = append(docs, doc)
	}
	return docs
}

// generateLegacyApplications は旧フロントエンドの書き込み形式を再現する。
func generateLegacyApplications(rng *rand.Rand, now time.Time, count int) []interface{} {
	docs := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		id := primitive.NewObjectID()
		name := applicantNames[rng.Intn(len(applicantNames))]
		created := now.Add(-time.Duration(60+rng.Intn(30)) * 24 * time.Hour)
		doc := mongodoc.ApplicationDocument{
			ID:                 id,
			Stream:             string(domain.StreamBachelors),
			Status:             "Pending",
			CreatedAt:          created,
			UpdatedAt:          created,
			LegacyFullName:     name,
			LegacyPhotoURL:     fmt.Sprintf("%s/legacy/%s/photo.jpg", mediaBase, id.Hex()),
			LegacyDocumentURLs: []string{fmt.Sprintf("%s/legacy/%s/cnic.pdf", mediaBase, id.Hex())},
		}
		if i%2 == 1 {
			doc.LegacyDocumentURLs = nil
			doc.LegacyDocumentURL = fmt.Sprintf("%s/legacy/%s/degree.pdf", mediaBase, id.Hex())
		}
		docs = append(docs, doc)
	}
	return docs
}

func emailFor(name string, i int) string {
	local := strings.ToLower(strings.ReplaceAll(name, " ", "."))
	return fmt.Sprintf("%s%d@example.com", local, i)
}
