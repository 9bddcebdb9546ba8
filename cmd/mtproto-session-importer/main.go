package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"tg-filter-bot/internal/adapters/mtproto"
	"tg-filter-bot/internal/adapters/repo"
	"tg-filter-bot/internal/infra/config"
	"tg-filter-bot/internal/infra/db"
)

// Импортирует MTProto-сессию поискового аккаунта в БД. Принимает сессии
// gotd, строковые сессии Telethon и экспортированный JSON.
func main() {
	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "путь к файлу MTProto-сессии")
	flag.StringVar(&sessionName, "name", "default", "имя сессии в БД")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("mtproto-importer: укажите путь к файлу сессии (-file)")
	}

	sessionData, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось прочитать файл сессии")
	}
	normalized, converted, err := mtproto.NormalizeSessionBytes(sessionData)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: неизвестный формат сессии")
	}
	sessionData = normalized

	cfg := config.Load()
	if cfg.PGDSN == "" {
		log.Fatal().Msg("mtproto-importer: требуется переменная окружения PG_DSN")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repoAdapter.SaveMTProtoSession(ctx, sessionName, sessionData); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось сохранить сессию")
	}

	if converted {
		fmt.Println("Сессия сконвертирована в формат gotd перед сохранением")
	}
	fmt.Printf("Сессия %q сохранена в БД (%d байт)\n", sessionName, len(sessionData))
}
