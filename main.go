package main

import (
	"net/http"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"group-relay-bot/bot"
	"group-relay-bot/config"
	"group-relay-bot/imagestore"
	"group-relay-bot/ledger"
	"group-relay-bot/logger"
	"group-relay-bot/relay"
	"group-relay-bot/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(&cfg.LogConfig, cfg.Mode); err != nil {
		panic(err)
	}
	log := zap.L()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal("load timezone failed", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		log.Fatal("open database failed", zap.String("path", cfg.DatabasePath), zap.Error(err))
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatal("init state store failed", zap.String("dir", cfg.DataDir), zap.Error(err))
	}
	images, err := imagestore.New(db)
	if err != nil {
		log.Fatal("init image store failed", zap.Error(err))
	}

	roles, err := relay.NewRoles(st, cfg.GlobalAdmins)
	if err != nil {
		log.Fatal("load roles failed", zap.Error(err))
	}
	prefs, err := relay.NewPrefs(st)
	if err != nil {
		log.Fatal("load prefs failed", zap.Error(err))
	}
	corr, err := relay.NewCorrelation(st)
	if err != nil {
		log.Fatal("load correlation table failed", zap.Error(err))
	}
	approvals, err := relay.NewApprovals(st)
	if err != nil {
		log.Fatal("load approvals failed", zap.Error(err))
	}
	replies, err := relay.NewReplyRelay(st)
	if err != nil {
		log.Fatal("load reply forwards failed", zap.Error(err))
	}
	books, err := ledger.New(st, db, loc)
	if err != nil {
		log.Fatal("init ledger failed", zap.Error(err))
	}

	b, err := bot.New(bot.Deps{
		Token:     cfg.BotToken,
		Images:    images,
		Roles:     roles,
		Prefs:     prefs,
		Corr:      corr,
		Approvals: approvals,
		Replies:   replies,
		Books:     books,
		Location:  loc,
		Logger:    log,
	})
	if err != nil {
		log.Fatal("start bot failed", zap.Error(err))
	}

	sched := cron.New(cron.WithLocation(loc))
	// Per-group bill rollover times are checked each minute.
	sched.AddFunc("* * * * *", b.CheckResets)
	// Books and archived bills older than the retention window.
	sched.AddFunc("0 1 * * *", b.Cleanup)
	sched.Start()

	if cfg.HealthAddr != "" {
		go func() {
			http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			if err := http.ListenAndServe(cfg.HealthAddr, nil); err != nil {
				log.Error("health endpoint failed", zap.Error(err))
			}
		}()
	}

	log.Info("bot started")
	b.Start()
}
