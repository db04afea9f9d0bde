package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"polyrotate/clients/notifier"
	"polyrotate/config"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	apiBase  string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger:  logger,
			chatID:  chatID,
			isProd:  cfg.IsProd,
			apiBase: defaultAPIBase,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (tc *TelegramClient) configured() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// IsEnabled reports whether a bot token and chat are configured.
func (tc *TelegramClient) IsEnabled() bool { return tc.configured() }

// SendRotationAlert reports a rotation outcome.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendRotationAlert(alert notifier.RotationAlert) {
	if !tc.configured() {
		tc.logger.Debug("telegram not configured, skipping alert")
		return
	}

	if err := tc.sendMessage(buildRotationMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram rotation alert",
		zap.String("from", alert.From),
		zap.String("to", alert.To),
		zap.String("outcome", string(alert.Outcome)),
	)
}

// SendRedemptionAlert reports a redemption attempt.
func (tc *TelegramClient) SendRedemptionAlert(alert notifier.RedemptionAlert) {
	if !tc.configured() {
		tc.logger.Debug("telegram not configured, skipping alert")
		return
	}

	if err := tc.sendMessage(buildRedemptionMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram redemption alert", zap.String("condition_id", alert.ConditionID))
}

func buildRotationMessage(alert notifier.RotationAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(alert.Title())))
	if alert.BotName != "" {
		sb.WriteString(fmt.Sprintf("*Bot:* %s\n", escapeMarkdown(alert.BotName)))
	}
	sb.WriteString(fmt.Sprintf("*From:* %s\n", escapeMarkdown(notifier.DisplayTag(alert.From))))
	sb.WriteString(fmt.Sprintf("*To:* %s\n", escapeMarkdown(notifier.DisplayTag(alert.To))))

	if alert.Sold != "" {
		sb.WriteString(fmt.Sprintf("*Sold:* %s shares\n", alert.Sold))
	}
	if alert.Spent != "" {
		sb.WriteString(fmt.Sprintf("*Spent:* $%s\n", alert.Spent))
	}
	sb.WriteString(fmt.Sprintf("*Orders:* %d\n", alert.Orders))

	if alert.Reason != "" {
		sb.WriteString(fmt.Sprintf("*Reason:* %s\n", escapeMarkdown(alert.Reason)))
	}
	if alert.Error != "" {
		sb.WriteString(fmt.Sprintf("*Error:* `%s` %s\n", alert.ErrorKind, escapeMarkdown(alert.Error)))
	}

	if alert.Duration > 0 {
		sb.WriteString(fmt.Sprintf("\n_took %s_", alert.Duration.Round(time.Millisecond)))
	}
	return sb.String()
}

func buildRedemptionMessage(alert notifier.RedemptionAlert) string {
	var sb strings.Builder

	if alert.Error != "" {
		sb.WriteString("*⚠️ Redemption Failed*\n\n")
	} else {
		sb.WriteString("*💰 Position Redeemed*\n\n")
	}
	if alert.MarketSlug != "" {
		sb.WriteString(fmt.Sprintf("*Market:* [%s](https://polymarket.com/market/%s)\n", escapeMarkdown(alert.MarketSlug), alert.MarketSlug))
	}
	sb.WriteString(fmt.Sprintf("*Condition:* `%s`\n", shortAddress(alert.ConditionID)))
	if alert.NegRisk {
		sb.WriteString("*Neg risk:* yes\n")
	}
	if alert.TxHash != "" {
		sb.WriteString(fmt.Sprintf("*Tx:* [%s](https://polygonscan.com/tx/%s)\n", shortAddress(alert.TxHash), alert.TxHash))
	}
	if alert.Error != "" {
		sb.WriteString(fmt.Sprintf("*Error:* %s\n", escapeMarkdown(alert.Error)))
	}
	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/%s", tc.apiBase, tc.botToken, "sendMessage")

	payload := map[string]interface{}{
		"chat_id":                  tc.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
