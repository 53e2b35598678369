package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/config"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/memory"
	mongodoc "github.com/ftu-admissions/admission-api/internal/infrastructure/mongo"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/notify"
	redishints "github.com/ftu-admissions/admission-api/internal/infrastructure/redis"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/storage"
	admissionhttp "github.com/ftu-admissions/admission-api/internal/interfaces/http/admission"
	commonhttp "github.com/ftu-admissions/admission-api/internal/interfaces/http/common"
	"github.com/ftu-admissions/admission-api/internal/logger"
	"github.com/ftu-admissions/admission-api/internal/metrics"
	"github.com/ftu-admissions/admission-api/internal/receipt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mediaPrefix = "/media"

// indexer はコレクションのインデックスを作成する。
type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// migrator は起動時に一度だけ実行するスキーマ移行。
type migrator interface {
	indexer
	MigrateLegacyFields(ctx context.Context) (int, error)
}

// Server は HTTP サーバーのライフサイクルを管理し、申請ハンドラへ依存注入するコンポジションルート。
type Server struct {
	logger         logger.Logger
	client         *mongo.Client
	redis          *goredis.Client
	handler        *admissionhttp.Handler
	media          http.Handler
	migrations     migrator
	indexers       []indexer
	runMigrations  bool
	addr           string
	allowedOrigins []string
}

// Run はマイグレーションを実行したうえで HTTP サーバーを起動し、シグナル受信まで待機する。
func (s *Server) Run() error {
	if err := s.migrate(context.Background()); err != nil {
		s.logger.WithError(err).Warn("起動時マイグレーションに失敗しました", nil)
	}

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP サーバー起動", map[string]interface{}{"addr": s.addr})
		errChan <- httpServer.ListenAndServe()
	}()

	return waitForShutdown(httpServer, errChan, s)
}

// Router はミドルウェアと全ルートを組み立てた http.Handler を返す。
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(withCORS(s.allowedOrigins))

	router.Get("/healthz", s.healthHandler())
	router.Handle("/metrics", metrics.Handler())
	if s.media != nil {
		router.Handle(mediaPrefix+"/*", http.StripPrefix(mediaPrefix, s.media))
	}
	s.handler.Register(router)
	return router
}

func (s *Server) migrate(ctx context.Context) error {
	if s.migrations == nil || !s.runMigrations {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, idx := range append([]indexer{s.migrations}, s.indexers...) {
		if err := idx.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	migrated, err := s.migrations.MigrateLegacyFields(ctx)
	if err != nil {
		return err
	}
	if migrated > 0 {
		s.logger.Info("旧フィールドを正規化しました", map[string]interface{}{"documents": migrated})
	}
	return nil
}

// normaliseBaseURL は入力文字列をトリムして末尾スラッシュを削除したURLを返す。
func normaliseBaseURL(input string) string {
	trimmed := strings.TrimSpace(input)
	return strings.TrimRight(trimmed, "/")
}

// withCORS は許可されたオリジン情報をもとに CORS ヘッダーを付与するミドルウェアを返す。
// セッション Cookie を使うため、ワイルドカード指定でも Origin をそのまま返す。
func withCORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	allowAll := false
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			allowAll = true
			continue
		}
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || (!allowAll && !originAllowed(origin, allowed)) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition,X-Receipt-Degraded")
			w.Header().Set("Access-Control-Max-Age", "300")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed は指定された Origin が許可リストに含まれるか判定する。
func originAllowed(origin string, allowed map[string]struct{}) bool {
	_, ok := allowed[origin]
	return ok
}

// healthHandler は MongoDB と Redis への疎通確認を行い、監視系からのヘルスチェック要求に応える。
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"store": "memory"}
		if s.client != nil {
			if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
				commonhttp.WriteJSON(s.logger, w, http.StatusServiceUnavailable, map[string]any{
					"status": "degraded",
					"error":  err.Error(),
				})
				return
			}
			checks["store"] = "ok"
		}
		if s.redis != nil {
			// ヒントは補助情報なので、Redis 障害は degraded 扱いにしない
			if err := s.redis.Ping(ctx).Err(); err != nil {
				checks["hints"] = "unavailable"
			} else {
				checks["hints"] = "ok"
			}
		}

		commonhttp.WriteJSON(s.logger, w, http.StatusOK, map[string]any{
			"status": "ok",
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// shutdown は外部接続をタイムアウト付きで切断し、プロセス終了時のリソースリークを防ぐ。
func (s *Server) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if s.client != nil {
		if err := s.client.Disconnect(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("MongoDB 切断時にエラー", nil)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.WithError(err).Warn("Redis 切断時にエラー", nil)
		}
	}
}

// waitForShutdown は ListenAndServe の終了と OS シグナルを監視し、graceful shutdown を実現する。
func waitForShutdown(httpServer *http.Server, errChan <-chan error, srv *Server) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	defer srv.shutdown(context.Background())

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーが異常終了: %w", err)
		}
	case sig := <-sigChan:
		srv.logger.Info("シグナルを受信。サーバー停止処理を開始します。", map[string]interface{}{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			srv.logger.WithError(err).Warn("サーバー停止時にエラー", nil)
		}
	}
	return nil
}

// New は Config と Mongo クライアントを受け取り、アプリケーションサービスとハンドラを組み立てた Server を返す。
// client はメモリドライバ利用時に nil でよい。
func New(ctx context.Context, cfg config.Config, client *mongo.Client, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.WithError(err).Warn("タイムゾーンの読み込みに失敗、UTC を使用します", map[string]interface{}{"timezone": cfg.Timezone})
		loc = time.UTC
	}

	srv := &Server{
		logger:         log,
		addr:           cfg.Addr,
		allowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		runMigrations:  cfg.RunMigrations,
	}

	var (
		repo     application.DraftRepository
		failures notify.FailureRecorder
	)
	switch cfg.StoreDriver {
	case config.DriverMongo:
		if client == nil {
			return nil, errors.New("mongo store driver selected without a client")
		}
		srv.client = client
		database := client.Database(cfg.MongoDatabase)
		mongoRepo := mongodoc.NewDraftRepository(database, cfg.ApplicationCollection)
		repo = mongoRepo
		srv.migrations = mongoRepo
		failureRepo := mongodoc.NewFailedNotificationRepository(database, cfg.FailedNotificationCollection)
		failures = failureRepo
		srv.indexers = append(srv.indexers, failureRepo)
	default:
		repo = memory.NewDraftRepository()
	}

	publicBase := normaliseBaseURL(cfg.PublicBaseURL)
	var (
		objects   application.ObjectStorage
		mediaRoot string
	)
	switch cfg.StorageDriver {
	case config.DriverS3:
		opts := storage.Options{
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			Bucket:        cfg.S3.Bucket,
			PublicBaseURL: cfg.S3.PublicBaseURL,
			PathStyle:     cfg.S3.PathStyle,
		}
		s3Client, err := storage.NewClient(ctx, opts)
		if err != nil {
			return nil, err
		}
		s3Storage, err := storage.NewS3Storage(s3Client, opts)
		if err != nil {
			return nil, err
		}
		objects = s3Storage
		mediaRoot = s3Storage.BaseURL()
	default:
		memStorage := memory.NewObjectStorage(publicBase + mediaPrefix)
		objects = memStorage
		mediaRoot = memStorage.BaseURL()
		srv.media = memStorage
	}

	var hints application.HintStore
	if cfg.RedisAddr != "" {
		redisOpts := redishints.Options{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.HintTTL,
		}
		srv.redis = redishints.NewClient(redisOpts)
		hints = redishints.NewHintStore(srv.redis, redisOpts)
	} else {
		hints = memory.NewHintStore(cfg.HintTTL)
	}

	signer, err := receipt.NewSigner(cfg.ReceiptSigningSecret, cfg.ReceiptIssuer)
	if err != nil {
		return nil, err
	}
	builder := receipt.NewBuilder(receipt.Config{
		Fetcher:       receipt.NewHTTPFetcher(cfg.ReceiptFetchTimeout, cfg.UploadMaxFileBytes, mediaRoot),
		Signer:        signer,
		Logger:        log.WithFields(map[string]interface{}{"component": "receipt"}),
		VerifyBaseURL: publicBase,
		Compress:      true,
		Location:      loc,
	})

	submissionCfg := application.SubmissionConfig{
		Repository: repo,
		Receipts:   builder,
		Logger:     log,
	}
	if notifier := buildNotifier(ctx, cfg, failures, log); notifier != nil {
		submissionCfg.Notifier = notifier
	}

	// 添付参照はアップロード API が発行したものだけを受け付ける
	drafts := application.NewDraftService(repo, application.AttachmentPolicy{
		BaseURLs:  []string{mediaRoot},
		KeyPrefix: cfg.StorageKeyPrefix,
	}, nil)
	srv.handler = admissionhttp.NewHandler(admissionhttp.Config{
		Logger: log,
		Drafts: drafts,
		Uploads: application.NewUploadService(repo, objects, application.UploadPolicy{
			MaxFileBytes: cfg.UploadMaxFileBytes,
			MaxDocuments: cfg.UploadMaxDocuments,
			KeyPrefix:    cfg.StorageKeyPrefix,
		}, log, nil),
		Submissions: application.NewSubmissionService(submissionCfg),
		Resolver: application.NewResolver(drafts, hints, application.ResolverConfig{
			Wait:         cfg.ResolverWait,
			PollInterval: cfg.ResolverPoll,
		}, log),
		Hints:          hints,
		Signer:         signer,
		SessionSecret:  cfg.SessionCookieSecret,
		SessionSecure:  cfg.SessionCookieSecure,
		RequestTimeout: cfg.RequestTimeout,
		UploadTimeout:  cfg.UploadTimeout,
		MaxFileBytes:   cfg.UploadMaxFileBytes,
		MaxDocuments:   cfg.UploadMaxDocuments,
	})
	return srv, nil
}

// buildNotifier は設定されたチャネルだけを持つ Dispatcher を返す。どれも無ければ nil。
func buildNotifier(ctx context.Context, cfg config.Config, failures notify.FailureRecorder, log logger.Logger) *notify.Dispatcher {
	dispatcherCfg := notify.Config{
		MessengerDestination: cfg.MessengerDestination,
		AdminBaseURL:         cfg.AdminBaseURL,
		PublicBaseURL:        cfg.PublicBaseURL,
		Failures:             failures,
		Logger:               log,
		RetryDelay:           200 * time.Millisecond,
	}
	if cfg.SESRegion != "" && cfg.SESFrom != "" {
		client, err := notify.NewSESClient(ctx, cfg.SESRegion)
		if err != nil {
			log.WithError(err).Warn("SES クライアントの初期化に失敗、メール通知を無効化します", nil)
		} else {
			dispatcherCfg.Email = notify.NewEmailSender(client, cfg.SESFrom)
		}
	}
	if endpoint := normaliseBaseURL(cfg.MessengerEndpoint); endpoint != "" {
		dispatcherCfg.Messenger = notify.NewMessengerClient(endpoint, &http.Client{Timeout: cfg.MessengerTimeout})
	}
	if dispatcherCfg.Email == nil && dispatcherCfg.Messenger == nil {
		return nil
	}
	return notify.NewDispatcher(dispatcherCfg)
}
