package store

import "context"

// Bot mirrors spec §3's Bot entity: the persisted identity record backing
// a configured bot, separate from its (YAML-sourced) runtime config.
type Bot struct {
	ID                string
	DisplayName       string
	OwnerUserID       int64
	DefaultAdapter    string
	WebhookPathSecret string
	WebhookPublicURL  string
}

// UpsertBot registers or updates a bot's identity row, called at startup
// from the loaded YAML bots file so Store-level foreign data (sessions,
// jobs, counters) always has a parent row to hang off.
func (s *Store) UpsertBot(ctx context.Context, b Bot) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO bots (id, display_name, owner_user_id, default_adapter, webhook_path_secret, webhook_public_url)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				display_name = excluded.display_name,
				owner_user_id = excluded.owner_user_id,
				default_adapter = excluded.default_adapter,
				webhook_path_secret = excluded.webhook_path_secret,
				webhook_public_url = excluded.webhook_public_url;
		`, b.ID, b.DisplayName, b.OwnerUserID, b.DefaultAdapter, b.WebhookPathSecret, b.WebhookPublicURL)
		return err
	})
}

func (s *Store) GetBot(ctx context.Context, id string) (*Bot, error) {
	var b Bot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, owner_user_id, default_adapter, webhook_path_secret, webhook_public_url
		FROM bots WHERE id = ?;
	`, id).Scan(&b.ID, &b.DisplayName, &b.OwnerUserID, &b.DefaultAdapter, &b.WebhookPathSecret, &b.WebhookPublicURL)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, owner_user_id, default_adapter, webhook_path_secret, webhook_public_url FROM bots;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.DisplayName, &b.OwnerUserID, &b.DefaultAdapter, &b.WebhookPathSecret, &b.WebhookPublicURL); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
