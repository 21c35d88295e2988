package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/Guizzs26/go-crm-sync/internal/models"
)

var ErrUnknownSetting = errors.New("unknown setting")

// SyncSettings reads the operational switches, falling back to defaults per missing key
func (s *Store) SyncSettings(ctx context.Context) (models.SyncSettings, error) {
	out := s.defaults

	rows, err := s.q.Query(ctx, `SELECT key, value FROM sync_settings`)
	if err != nil {
		return out, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return out, fmt.Errorf("scan setting: %w", err)
		}

		var target any
		switch key {
		case models.SettingOutboundEnabled:
			target = &out.OutboundEnabled
		case models.SettingShadowMode:
			target = &out.ShadowMode
		case models.SettingAllowedEventTypes:
			target = &out.AllowedEventTypes
		case models.SettingAutoCreateContacts:
			target = &out.AutoCreateContacts
		case models.SettingInboundEnabled:
			target = &out.InboundEnabled
		default:
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return out, fmt.Errorf("decode setting %s: %w", key, err)
		}
	}
	return out, rows.Err()
}

// SetSetting upserts one switch
func (s *Store) SetSetting(ctx context.Context, key string, value any) error {
	if !slices.Contains(models.SettingKeys, key) {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO sync_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, raw)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}
