package wa

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/transport"
)

// Client is a transport.Transport over a whatsmeow client.
type Client struct {
	client    *whatsmeow.Client
	groups    transport.GroupLookup
	logger    *zap.Logger
	handlerID uint32
}

var _ transport.Transport = (*Client)(nil)

// SendMessage sends content to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID string, content transport.Content) (transport.MessageHandle, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return transport.MessageHandle{}, fmt.Errorf("parse JID: %w", err)
	}
	msg, err := BuildMessage(ctx, c.client, content)
	if err != nil {
		return transport.MessageHandle{}, err
	}
	resp, err := c.client.SendMessage(ctx, to, msg)
	if err != nil {
		return transport.MessageHandle{}, fmt.Errorf("send message: %w", err)
	}
	return transport.MessageHandle{ID: resp.ID, ChatID: chatID, Timestamp: resp.Timestamp}, nil
}

// DownloadMedia fetches and decrypts the media attached to msg.
func (c *Client) DownloadMedia(ctx context.Context, msg *transport.Message) ([]byte, error) {
	if msg == nil || msg.Media == nil {
		return nil, fmt.Errorf("message has no media")
	}
	dm, ok := msg.Media.Handle.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("media handle %T is not downloadable", msg.Media.Handle)
	}
	data, err := c.client.Download(ctx, dm)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", msg.Media.Kind, err)
	}
	return data, nil
}

// SendReceipt marks messageIDs in chatID as read or played.
func (c *Client) SendReceipt(ctx context.Context, chatID, participant string, messageIDs []string, kind transport.ReceiptType) error {
	chat, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat JID: %w", err)
	}
	sender := types.EmptyJID
	if participant != "" {
		if sender, err = types.ParseJID(participant); err != nil {
			return fmt.Errorf("parse participant JID: %w", err)
		}
	}
	ids := make([]types.MessageID, len(messageIDs))
	copy(ids, messageIDs)

	var extra []types.ReceiptType
	if kind == transport.ReceiptPlayed {
		extra = append(extra, types.ReceiptTypePlayed)
	}
	if err := c.client.MarkRead(ctx, ids, time.Now(), chat, sender, extra...); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// DeleteMessage revokes the message identified by key for everyone.
func (c *Client) DeleteMessage(ctx context.Context, key transport.MessageKey) error {
	chat, err := types.ParseJID(key.ChatID)
	if err != nil {
		return fmt.Errorf("parse chat JID: %w", err)
	}
	sender := types.EmptyJID
	if !key.FromMe {
		sender = chat
		if key.Participant != "" {
			if sender, err = types.ParseJID(key.Participant); err != nil {
				return fmt.Errorf("parse participant JID: %w", err)
			}
		}
	}
	revoke := c.client.BuildRevoke(chat, sender, key.ID)
	if _, err := c.client.SendMessage(ctx, chat, revoke); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	return nil
}

// GroupMetadata returns group information, consulting the cache first.
func (c *Client) GroupMetadata(ctx context.Context, groupID string) (*transport.GroupMetadata, error) {
	if c.groups != nil {
		if md, ok := c.groups.Get(groupID); ok {
			return md, nil
		}
	}
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return nil, fmt.Errorf("parse group JID: %w", err)
	}
	info, err := c.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get group info: %w", err)
	}
	md := groupMetadata(info)
	if c.groups != nil {
		c.groups.Add(groupID, md)
	}
	return md, nil
}

// Logout unlinks the device.
func (c *Client) Logout(ctx context.Context) error {
	c.logger.Info("logging out of WhatsApp")
	return c.client.Logout(ctx)
}

// Close disconnects without logging out. Events stop after Close returns.
func (c *Client) Close() {
	c.logger.Info("disconnecting from WhatsApp")
	c.client.RemoveEventHandler(c.handlerID)
	c.client.Disconnect()
}
