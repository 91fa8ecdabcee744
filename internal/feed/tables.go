package feed

// Table names shared by publishers and subscribers. Scoping columns for
// filtered topics live next to them so both sides agree on spelling.
const (
	TableChannels  = "channels"
	TableMessages  = "messages"
	TableReactions = "reactions"

	ColumnChannelID = "channel_id"
	ColumnMessageID = "message_id"
)
