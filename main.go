package main

import (
	"os"
	"time"

	"chmsapp/pkg/mailer"
	"chmsapp/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "dev-insecure-secret-change" // development fallback
		log.Warn("JWT_SECRET not set, using insecure development secret")
	}

	// Support a lightweight migrate command: `./chmsapp migrate`
	// It runs the schema bootstrap and exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if _, err := openDB(cfg, log); err != nil {
			log.Fatal("migrate failed", zap.Error(err))
		}
		log.Info("migration completed")
		return
	}

	db, err := openDB(cfg, log)
	if err != nil {
		log.Fatal("failed to connect postgres database", zap.Error(err))
	}

	gateway := mailer.NewSMTP(smtpSettings(cfg.Mail))
	stopWatch, err := cfg.watchConfigFile(log, func(mc MailConfig) {
		gateway.Update(smtpSettings(mc))
	})
	if err != nil {
		log.Fatal("config watcher failed", zap.Error(err))
	}
	defer stopWatch()

	dispatcher := mailer.NewDispatcher(gateway, log)
	defer dispatcher.Close()

	store := NewUserStore(db)
	tokens := token.New([]byte(cfg.JWT.Secret), cfg.JWT.ResetTTL.Std())
	users := NewUserService(store, db)
	accounts := NewAccountService(store, tokens, dispatcher, cfg, log)

	r := gin.Default()
	srv := newServer(cfg, log, db, store, users, accounts)
	srv.setupRoutes(r)

	log.Info("listening",
		zap.String("addr", cfg.Addr),
		zap.Duration("reset_token_ttl", cfg.JWT.ResetTTL.Std()),
		zap.Duration("session_ttl", time.Duration(cfg.JWT.SessionTTL)))
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func smtpSettings(mc MailConfig) mailer.SMTPSettings {
	return mailer.SMTPSettings{
		Host:     mc.Host,
		Port:     mc.Port,
		Username: mc.Username,
		Password: mc.Password,
	}
}
