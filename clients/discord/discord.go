package discord

import (
	"fmt"
	"polyrotate/clients/notifier"
	"polyrotate/config"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorDone    = 0x2ECC71
	colorSkipped = 0xF1C40F
	colorFailed  = 0xE74C3C
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// IsEnabled reports whether a session and channel are configured.
func (d *DiscordClient) IsEnabled() bool {
	return d.session != nil && d.channelID != ""
}

// SendMessage sends a plain text message.
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping message")
		return
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, message)
	if err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord message")
}

// SendRotationAlert sends a rich embedded rotation alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendRotationAlert(alert notifier.RotationAlert) {
	dc.sendEmbed(buildRotationEmbed(alert), zap.String("from", alert.From), zap.String("to", alert.To))
}

// SendRedemptionAlert sends a rich embedded redemption alert.
func (dc *DiscordClient) SendRedemptionAlert(alert notifier.RedemptionAlert) {
	dc.sendEmbed(buildRedemptionEmbed(alert), zap.String("condition_id", alert.ConditionID))
}

func (dc *DiscordClient) sendEmbed(embed *discordgo.MessageEmbed, fields ...zap.Field) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping alert")
		return
	}

	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed); err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord alert", append(fields, zap.String("title", embed.Title))...)
}

func buildRotationEmbed(alert notifier.RotationAlert) *discordgo.MessageEmbed {
	color := colorFailed
	switch alert.Outcome {
	case notifier.OutcomeDone:
		color = colorDone
	case notifier.OutcomeSkipped:
		color = colorSkipped
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "From",
			Value:  notifier.DisplayTag(alert.From),
			Inline: true,
		},
		{
			Name:   "To",
			Value:  notifier.DisplayTag(alert.To),
			Inline: true,
		},
		{
			Name:   "Orders",
			Value:  fmt.Sprintf("%d", alert.Orders),
			Inline: true,
		},
	}
	if alert.Sold != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Sold", Value: alert.Sold + " shares", Inline: true})
	}
	if alert.Spent != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Spent", Value: "$" + alert.Spent, Inline: true})
	}
	if alert.Reason != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Reason", Value: alert.Reason})
	}
	if alert.Error != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Error",
			Value: fmt.Sprintf("`%s` %s", alert.ErrorKind, alert.Error),
		})
	}

	description := ""
	if alert.BotName != "" {
		description = fmt.Sprintf("**%s**", alert.BotName)
	}

	return &discordgo.MessageEmbed{
		Title:       alert.Title(),
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footer(alert.RotationID, alert.Timestamp),
		},
		Timestamp: stamp(alert.Timestamp).Format(time.RFC3339),
	}
}

func buildRedemptionEmbed(alert notifier.RedemptionAlert) *discordgo.MessageEmbed {
	title := "💰 Position Redeemed"
	color := colorDone
	if alert.Error != "" {
		title = "⚠️ Redemption Failed"
		color = colorFailed
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Condition",
			Value:  shortAddress(alert.ConditionID),
			Inline: true,
		},
		{
			Name:   "Neg Risk",
			Value:  fmt.Sprintf("%t", alert.NegRisk),
			Inline: true,
		},
	}
	if alert.TxHash != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Transaction",
			Value: fmt.Sprintf("[%s](https://polygonscan.com/tx/%s)", shortAddress(alert.TxHash), alert.TxHash),
		})
	}
	if alert.Error != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Error", Value: alert.Error})
	}

	embed := &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: footer("", alert.Timestamp)},
		Timestamp: stamp(alert.Timestamp).Format(time.RFC3339),
	}
	if alert.MarketSlug != "" {
		embed.Description = fmt.Sprintf("**%s**", alert.MarketSlug)
		embed.URL = "https://polymarket.com/market/" + alert.MarketSlug
	}
	return embed
}

func stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}

// footer formats the timestamp in Pacific time.
func footer(id string, ts time.Time) string {
	pst, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		pst = time.UTC
	}
	text := fmt.Sprintf("polyrotate * %s", stamp(ts).In(pst).Format("1/2/2006, 3:04:05PM (MST)"))
	if id != "" {
		text += " * " + id[:min(8, len(id))]
	}
	return text
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
