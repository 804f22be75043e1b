package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Addressed reports whether m is meant for the bot with id self and
// returns its text with the bot mention removed. Bot authors are ignored.
// A message is addressed when it mentions the bot or arrives in a DM.
func Addressed(m *discordgo.Message, self string) (string, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == self {
		return "", false
	}
	direct := m.GuildID == ""
	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == self {
			mentioned = true
			break
		}
	}
	if !direct && !mentioned {
		return "", false
	}
	text := m.Content
	if self != "" {
		text = strings.NewReplacer("<@"+self+">", "", "<@!"+self+">", "").Replace(text)
	}
	return strings.TrimSpace(text), true
}
