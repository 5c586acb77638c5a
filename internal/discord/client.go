package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/breeze-rmm/session-panel/internal/panel"
	"github.com/breeze-rmm/session-panel/internal/publisher"
)

// restAPI is the subset of *discordgo.Session used for panel messages.
type restAPI interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Client implements publisher.MessageClient for one channel.
type Client struct {
	api       restAPI
	channelID string
}

func NewClient(api restAPI, channelID string) *Client {
	return &Client{api: api, channelID: channelID}
}

func (c *Client) Send(ctx context.Context, doc panel.Document) (string, error) {
	msg, err := c.api.ChannelMessageSendEmbed(c.channelID, Embed(doc), discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

func (c *Client) Fetch(ctx context.Context, id string) error {
	_, err := c.api.ChannelMessage(c.channelID, id, discordgo.WithContext(ctx))
	return classify(err)
}

func (c *Client) Edit(ctx context.Context, id string, doc panel.Document) error {
	_, err := c.api.ChannelMessageEditEmbed(c.channelID, id, Embed(doc), discordgo.WithContext(ctx))
	return classify(err)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return classify(c.api.ChannelMessageDelete(c.channelID, id, discordgo.WithContext(ctx)))
}

// Embed converts a panel document to a Discord embed. LastChecked becomes
// the embed timestamp shown next to the footer.
func Embed(doc panel.Document) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:  doc.Title,
		Color:  doc.Color,
		Fields: make([]*discordgo.MessageEmbedField, 0, len(doc.Fields)),
	}
	if doc.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: doc.Footer}
	}
	if !doc.LastChecked.IsZero() {
		embed.Timestamp = doc.LastChecked.UTC().Format(time.RFC3339)
	}
	for _, f := range doc.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}

// classify maps Discord REST errors onto the publisher's sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}

	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %v", publisher.ErrNotFound, err)
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %v", publisher.ErrForbidden, err)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", publisher.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", publisher.ErrForbidden, err)
		}
	}
	return err
}
