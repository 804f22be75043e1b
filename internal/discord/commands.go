package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/rcliao/chat-relay/internal/assembler"
)

// Command names.
const (
	cmdAsk           = "ask"
	cmdAskBlank      = "askblank"
	cmdTimeout       = "timeout"
	cmdRemoveTimeout = "removetimeout"
	cmdQuota         = "quota"
	cmdRemoveQuota   = "removequota"
	cmdStatus        = "status"
	cmdSendDM        = "senddm"
	cmdSendMessage   = "sendmessage"
	cmdWindow        = "window"
)

func minValue(v float64) *float64 { return &v }

func stringOption(name, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: desc,
		Required:    true,
	}
}

func intOption(name, desc string, min float64) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: desc,
		Required:    true,
		MinValue:    minValue(min),
	}
}

func windowOption() *discordgo.ApplicationCommandOption {
	opt := intOption("size", "History messages", 0)
	opt.MaxValue = assembler.MaxWindowSize
	return opt
}

// GlobalCommands are registered for every guild and DM.
func GlobalCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdAsk,
			Description: "Ask a question with conversation context",
			Options:     []*discordgo.ApplicationCommandOption{stringOption("question", "Your question")},
		},
		{
			Name:        cmdAskBlank,
			Description: "Ask a question without context",
			Options:     []*discordgo.ApplicationCommandOption{stringOption("question", "Your question")},
		},
		{
			Name:        cmdTimeout,
			Description: "Timeout a user (authorized users only)",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("userid", "User ID to timeout"),
				intOption("duration", "Duration in seconds", 1),
			},
		},
		{
			Name:        cmdRemoveTimeout,
			Description: "Remove a user's timeout (authorized users only)",
			Options:     []*discordgo.ApplicationCommandOption{stringOption("userid", "User ID")},
		},
		{
			Name:        cmdQuota,
			Description: "Limit how many more messages a user may send (authorized users only)",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("userid", "User ID"),
				intOption("count", "Messages allowed", 0),
			},
		},
		{
			Name:        cmdRemoveQuota,
			Description: "Remove a user's quota (authorized users only)",
			Options:     []*discordgo.ApplicationCommandOption{stringOption("userid", "User ID")},
		},
	}
}

// ManagementCommands are registered to the management guild.
func ManagementCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdStatus,
			Description: "Set the bot's status (authorized users only)",
			Options:     []*discordgo.ApplicationCommandOption{stringOption("status", "The status to set")},
		},
		{
			Name:        cmdSendDM,
			Description: "Send a DM to a user (authorized users only)",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("userid", "User ID to send DM"),
				stringOption("message", "Message to send"),
			},
		},
		{
			Name:        cmdSendMessage,
			Description: "Send a message to a channel (authorized users only)",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("channelid", "Channel ID to send message"),
				stringOption("message", "Message to send"),
			},
		},
		{
			Name:        cmdWindow,
			Description: "Set how many history messages are sent as context (authorized users only)",
			Options:     []*discordgo.ApplicationCommandOption{windowOption()},
		},
	}
}
