package discord

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/breeze-rmm/session-panel/internal/logging"
	"github.com/breeze-rmm/session-panel/internal/panel"
	"github.com/breeze-rmm/session-panel/internal/secmem"
)

var log = logging.L("discord")

const refreshTimeout = 2 * time.Minute

// CommandHandler serves the slash commands.
type CommandHandler interface {
	// CurrentPanel returns the most recently rendered panel, false before
	// the first tick.
	CurrentPanel() (panel.Document, bool)
	// Refresh runs a tick immediately, including a Security log refresh,
	// and returns the resulting panel.
	Refresh(ctx context.Context) (panel.Document, error)
}

type Options struct {
	ChannelID   string
	GuildID     string
	AdminRoleID string
	// SlashCommands registers /sessions and /refresh when set.
	SlashCommands bool
}

// Bot owns the gateway session.
type Bot struct {
	session *discordgo.Session
	opts    Options
	client  *Client

	mu      sync.RWMutex
	handler CommandHandler
}

// New creates a bot session. No network connection is made until Open.
func New(token *secmem.Token, opts Options) (*Bot, error) {
	s, err := discordgo.New(token.Authorization())
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	s.ShouldReconnectOnError = true

	b := &Bot{
		session: s,
		opts:    opts,
		client:  NewClient(s, opts.ChannelID),
	}
	s.AddHandler(b.onReady)
	s.AddHandler(b.onInteraction)
	return b, nil
}

// Messages returns the panel message client for the configured channel.
func (b *Bot) Messages() *Client {
	return b.client
}

// SetHandler installs the slash command handler. Commands received before
// a handler is set are answered with a "starting up" notice.
func (b *Bot) SetHandler(h CommandHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Open connects to the gateway and registers slash commands.
func (b *Bot) Open(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if !b.opts.SlashCommands {
		return nil
	}

	appID := b.session.State.User.ID
	cmds, err := b.session.ApplicationCommandBulkOverwrite(appID, b.opts.GuildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		log.Warn("slash command registration failed", logging.KeyError, err.Error())
		return nil
	}
	scope := "global"
	if b.opts.GuildID != "" {
		scope = "guild"
	}
	log.Info("slash commands registered", "count", len(cmds), "scope", scope)
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name

	if !Authorized(i.Member, b.opts.AdminRoleID) {
		b.reply(s, i, ephemeral("You are not allowed to use this command."))
		return
	}

	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h == nil {
		b.reply(s, i, ephemeral("The monitor is still starting, try again shortly."))
		return
	}

	switch name {
	case "sessions":
		b.reply(s, i, sessionsResponse(h))
	case "refresh":
		b.refresh(s, i, h)
	default:
		b.reply(s, i, ephemeral("Unknown command."))
	}
}

func (b *Bot) refresh(s *discordgo.Session, i *discordgo.InteractionCreate, h CommandHandler) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		log.Warn("failed to acknowledge refresh", logging.KeyError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	edit := refreshEdit(h.Refresh(ctx))
	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		log.Warn("failed to send refresh result", logging.KeyError, err.Error())
	}
}

func (b *Bot) reply(s *discordgo.Session, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		log.Warn("failed to answer interaction", logging.KeyError, err.Error())
	}
}

// Commands returns the slash command definitions.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "sessions", Description: "Show the current RDP session panel"},
		{Name: "refresh", Description: "Refresh RDP sessions and the Security log now"},
	}
}

// Authorized reports whether member may run commands. With no admin role
// configured everyone may; otherwise the member must hold that role.
func Authorized(member *discordgo.Member, adminRoleID string) bool {
	if adminRoleID == "" {
		return true
	}
	if member == nil {
		return false
	}
	return slices.Contains(member.Roles, adminRoleID)
}

func ephemeral(content string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral}
}

func sessionsResponse(h CommandHandler) *discordgo.InteractionResponseData {
	doc, ok := h.CurrentPanel()
	if !ok {
		return ephemeral("No sessions have been collected yet.")
	}
	return &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{Embed(doc)},
		Flags:  discordgo.MessageFlagsEphemeral,
	}
}

func refreshEdit(doc panel.Document, err error) *discordgo.WebhookEdit {
	if err != nil {
		content := "Refresh failed: " + err.Error()
		return &discordgo.WebhookEdit{Content: &content}
	}
	content := "Refreshed."
	embeds := []*discordgo.MessageEmbed{Embed(doc)}
	return &discordgo.WebhookEdit{Content: &content, Embeds: &embeds}
}
