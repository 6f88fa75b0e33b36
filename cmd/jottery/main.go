// Command jottery is a minimal contract-only client for the encrypted
// note store and sync engine: it opens (or initializes) a local
// container, registers with a relay on first run, and runs one sync
// cycle. It is not a UI; a full terminal client is out of scope here.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seesee/jottery/internal/store"
	"github.com/seesee/jottery/internal/syncengine"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "jottery").Logger()

	storePath := env("JOTTERY_STORE_PATH", "jottery.db")
	password := os.Getenv("JOTTERY_PASSWORD")
	if password == "" {
		log.Fatal().Msg("JOTTERY_PASSWORD is required")
	}
	syncURL := env("JOTTERY_SYNC_URL", "")
	if syncURL == "" {
		log.Fatal().Msg("JOTTERY_SYNC_URL is required")
	}

	s, err := store.Open(storePath, password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer s.Close()

	meta, err := s.Sync.GetMetadata()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read sync metadata")
	}

	if meta.APIKey == "" || meta.ClientID == "" {
		transport := syncengine.NewTransport(syncURL, "")
		reg, err := transport.Register(context.Background(), deviceName(), "cli")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to register with relay")
		}
		if err := s.Sync.SetCredentials(reg.APIKey, reg.ClientID); err != nil {
			log.Fatal().Err(err).Msg("failed to persist sync credentials")
		}
		if err := s.Sync.SetSyncEnabled(true); err != nil {
			log.Fatal().Err(err).Msg("failed to enable sync")
		}
		meta.APIKey = reg.APIKey
		meta.ClientID = reg.ClientID
		log.Info().Str("client_id", reg.ClientID).Msg("registered new device")
	}

	transport := syncengine.NewTransport(syncURL, meta.APIKey)
	engine := syncengine.New(s, transport)

	if err := engine.Sync(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("sync cycle failed")
	}

	notes, err := s.Notes.List(false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list notes")
	}
	fmt.Printf("synced; %d note(s) in local store\n", len(notes))
}

func deviceName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "jottery-cli"
}
