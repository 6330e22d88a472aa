package db

import (
	"context"
	"fmt"

	"github.com/brojonat/txfeed/service/feed"
)

// UpsertRecipient stores display metadata for a counterparty address.
func (s *Store) UpsertRecipient(ctx context.Context, r feed.Recipient) error {
	const q = `
		INSERT INTO recipients (address, display_name, e164_number, avatar_url)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		ON CONFLICT (address) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			e164_number = EXCLUDED.e164_number,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, q, r.Address, r.DisplayName, r.E164Number, r.AvatarURL); err != nil {
		return fmt.Errorf("failed to upsert recipient %s: %w", r.Address, err)
	}
	return nil
}

// LookupRecipients loads the recipients known for the given addresses.
// Unknown addresses are absent from the result.
func (s *Store) LookupRecipients(ctx context.Context, addresses []string) (feed.RecipientMap, error) {
	out := feed.RecipientMap{}
	if len(addresses) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT address, display_name, COALESCE(e164_number, ''), COALESCE(avatar_url, '')
		FROM recipients
		WHERE address = ANY($1)`, addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r feed.Recipient
		if err := rows.Scan(&r.Address, &r.DisplayName, &r.E164Number, &r.AvatarURL); err != nil {
			return nil, err
		}
		out[r.Address] = r
	}
	return out, rows.Err()
}
