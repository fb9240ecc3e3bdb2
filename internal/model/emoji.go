package model

import "github.com/sakif/essence/internal/snowflake"

type Emoji struct {
	ID        snowflake.ID `json:"id"`
	GuildID   snowflake.ID `json:"guild_id"`
	Name      string       `json:"name"`
	CreatedBy snowflake.ID `json:"created_by"`
}
