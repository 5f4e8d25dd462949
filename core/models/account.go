package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nyaruka/gocommon/dbutil"
	"github.com/nyaruka/null/v2"
	"github.com/thebandlist/presenced/core/presence"
	"github.com/thebandlist/presenced/runtime"
)

// ErrNoDatabase is returned by lookups when the service is running without a database
var ErrNoDatabase = errors.New("no database configured")

type AccountID int64

// SiteUserID is the id of a user of the site, which may have a linked Discord account
type SiteUserID int64

const NilSiteUserID = SiteUserID(0)

// DiscordAccount is a Discord account linked to a site user
type DiscordAccount struct {
	ID          AccountID       `json:"id"`
	DiscordID   presence.UserID `json:"discord_id"`
	Username    string          `json:"username"`
	DisplayName null.String     `json:"display_name"`
	AvatarHash  null.String     `json:"avatar_hash"`
	UserID      SiteUserID      `json:"user_id"`
}

// Name returns the display name if set, otherwise the username
func (a *DiscordAccount) Name() string {
	if a.DisplayName != "" {
		return string(a.DisplayName)
	}
	return a.Username
}

// AvatarURL returns the CDN URL of the account's avatar or empty string if it doesn't have one
func (a *DiscordAccount) AvatarURL() string {
	if a.AvatarHash == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", a.DiscordID, a.AvatarHash)
}

// snowflakes are stored as numeric so cast to text to keep them exact in JSON
const sqlSelectDiscordAccount = `
SELECT row_to_json(r) FROM (
	SELECT "Id" AS id, "DiscordId"::text AS discord_id, "DiscordUsername" AS username, "DiscordDisplayName" AS display_name, "AvatarHash" AS avatar_hash, "UtilisateurId" AS user_id
	FROM "DiscordAccounts"
	WHERE "UtilisateurId" = $1
) r`

// LoadDiscordAccount loads the Discord account linked to the given site user
func LoadDiscordAccount(ctx context.Context, rt *runtime.Runtime, userID SiteUserID) (*DiscordAccount, error) {
	if rt.DB == nil {
		return nil, ErrNoDatabase
	}

	rows, err := rt.DB.QueryContext(ctx, sqlSelectDiscordAccount, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying discord account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, sql.ErrNoRows
	}
	a := &DiscordAccount{}
	if err := dbutil.ScanJSON(rows, a); err != nil {
		return nil, fmt.Errorf("error scanning discord account: %w", err)
	}
	return a, nil
}
