package command

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
	"github.com/MikeSquared-Agency/ferry/internal/chatwoot"
	"github.com/MikeSquared-Agency/ferry/internal/checkpoint"
	"github.com/MikeSquared-Agency/ferry/internal/hermes"
	"github.com/MikeSquared-Agency/ferry/internal/ledger"
	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
	"github.com/MikeSquared-Agency/ferry/internal/storage"
	"github.com/MikeSquared-Agency/ferry/internal/store"
)

// backend is the selected persistence for ledgers and checkpoints.
type backend struct {
	ledgers  reconcile.Ledgers
	extracts checkpoint.Store
	loads    checkpoint.Store
	close    func()
}

func (a *app) openBackend(ctx context.Context) (*backend, error) {
	if a.cfg.StorageBackend == "postgres" {
		db, err := store.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.logger.Info("database connected", "backend", "postgres")
		return &backend{
			ledgers: reconcile.Ledgers{
				Contacts:      db.Ledger(ledger.Contacts),
				Conversations: db.Ledger(ledger.Conversations),
				Messages:      db.Ledger(ledger.Messages),
			},
			extracts: db.Checkpoints(checkpoint.ExtractFile),
			loads:    db.Checkpoints(checkpoint.LoadFile),
			close:    db.Close,
		}, nil
	}

	dir := a.cfg.MappingsDir
	b := &backend{
		extracts: checkpoint.OpenFile(dir, checkpoint.ExtractFile),
		loads:    checkpoint.OpenFile(dir, checkpoint.LoadFile),
		close:    func() {},
	}
	var err error
	if b.ledgers.Contacts, err = ledger.OpenFile(dir, ledger.Contacts); err != nil {
		return nil, err
	}
	if b.ledgers.Conversations, err = ledger.OpenFile(dir, ledger.Conversations); err != nil {
		return nil, err
	}
	if b.ledgers.Messages, err = ledger.OpenFile(dir, ledger.Messages); err != nil {
		return nil, err
	}
	return b, nil
}

// events connects to NATS when NATS_URL is set. Runs never fail for lack of a bus.
func (a *app) events() (hermes.Publisher, func()) {
	if a.cfg.NatsURL == "" {
		return hermes.Discard, func() {}
	}
	client, err := hermes.NewClient(hermes.Config{URL: a.cfg.NatsURL, Token: a.cfg.NatsToken}, a.logger)
	if err != nil {
		a.logger.Warn("NATS unavailable, events disabled", "error", err)
		return hermes.Discard, func() {}
	}
	a.logger.Info("NATS connected", "url", a.cfg.NatsURL)
	return client, client.Close
}

func (a *app) storage() (*storage.Local, error) {
	return storage.NewLocal(a.cfg.DataDir, a.logger)
}

func (a *app) timeout() time.Duration {
	return time.Duration(a.cfg.HTTPTimeoutSeconds) * time.Second
}

func (a *app) botmaker() (*botmaker.Client, error) {
	if err := a.cfg.ValidateSource(); err != nil {
		return nil, err
	}
	c, err := botmaker.New(botmaker.Config{
		BaseURL: a.cfg.BotmakerBaseURL,
		Token:   a.cfg.BotmakerAPIToken,
		RPS:     a.cfg.RateLimitRPS,
		Timeout: a.timeout(),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("botmaker client: %w", err)
	}
	a.logger.Debug("botmaker client ready", "base_url", a.cfg.BotmakerBaseURL, "business_id", a.cfg.BotmakerBusinessID)
	return c, nil
}

func (a *app) chatwoot() (*chatwoot.Client, error) {
	c, err := chatwoot.New(chatwoot.Config{
		BaseURL:     a.cfg.ChatwootBaseURL,
		AccessToken: a.cfg.ChatwootAPIAccessToken,
		AccountID:   a.cfg.ChatwootAccountID,
		RPS:         a.cfg.RateLimitRPS,
		Timeout:     a.timeout(),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("chatwoot client: %w", err)
	}
	return c, nil
}
