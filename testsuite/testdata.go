package testsuite

import (
	"strconv"

	"github.com/nyaruka/null/v2"
	"github.com/thebandlist/presenced/core/models"
	"github.com/thebandlist/presenced/runtime"
)

func InsertDiscordAccount(rt *runtime.Runtime, userID models.SiteUserID, discordID uint64, username, displayName, avatarHash string) models.AccountID {
	row := rt.DB.QueryRow(
		`INSERT INTO "DiscordAccounts"("DiscordId", "DiscordUsername", "DiscordDisplayName", "AvatarHash", "UtilisateurId") 
		VALUES($1::numeric, $2, $3, $4, $5) RETURNING "Id"`,
		strconv.FormatUint(discordID, 10), username, null.String(displayName), null.String(avatarHash), userID,
	)
	var id models.AccountID
	must(row.Scan(&id))
	return id
}
