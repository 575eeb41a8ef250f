package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"course-booking-engine/internal/config"
	"course-booking-engine/internal/infra/api"
	pg "course-booking-engine/internal/infra/db/postgres"
	"course-booking-engine/internal/infra/db/seed"
	"course-booking-engine/internal/infra/logging"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	res, err := seed.Seed(ctx, seed.Repos{
		Users:       pg.NewPostgresUserRepo(pool),
		Plans:       pg.NewPostgresPlanRepo(pool),
		Products:    pg.NewPostgresProductRepo(pool),
		Sessions:    pg.NewPostgresSessionRepo(pool),
		Memberships: pg.NewPostgresMembershipRepo(pool),
	}, time.Now(), cfg.Location())
	if errors.Is(err, seed.ErrAlreadySeeded) {
		logger.Info().Msg("plans already present, no changes")
		return
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}

	tok, err := api.NewAuthManager(cfg.Auth.JWTSecret).Mint(res.MemberID, 24*time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint token")
	}
	logger.Info().Int("plans", res.Plans).Int("sessions", res.Sessions).Msg("seeded")
	fmt.Printf("member %s token (24h):\n%s\n", res.MemberID, tok)
}
