package wa

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/transport"

	_ "github.com/mattn/go-sqlite3"
)

// DeviceName is shown in the phone's linked devices list.
const DeviceName = "wpprelay"

// Dialer opens whatsmeow sessions backed by a device database.
type Dialer struct {
	container *sqlstore.Container
	groups    transport.GroupLookup
	logger    *zap.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer opens the whatsmeow device database at dbPath.
func NewDialer(ctx context.Context, dbPath string, groups transport.GroupLookup, logger *zap.Logger) (*Dialer, error) {
	wastore.SetOSInfo(DeviceName, [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		NewLogger(logger.Named("sqlstore")),
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	return &Dialer{
		container: container,
		groups:    groups,
		logger:    logger,
	}, nil
}

// Close closes the device database.
func (d *Dialer) Close() error {
	return d.container.Close()
}

// Dial connects a whatsmeow client. Without stored credentials the session
// starts unpaired and emits QR challenges until it is linked.
func (d *Dialer) Dial(ctx context.Context, creds *transport.Credentials, handler transport.Handler) (transport.Transport, error) {
	device, err := d.device(ctx, creds)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, NewLogger(d.logger.Named("whatsmeow")))
	client.EnableAutoReconnect = false

	c := &Client{client: client, groups: d.groups, logger: d.logger}
	events := NewEventHandler(handler, d.groups, func() identity { return identityOf(client.Store) }, d.logger)
	c.handlerID = client.AddEventHandler(events.Handle)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("get QR channel: %w", err)
		}
		go pumpQR(qrChan, handler, d.logger)
	}

	handler(transport.ConnectionUpdate{Connection: transport.ConnectionConnecting})
	if err := client.Connect(); err != nil {
		client.RemoveEventHandler(c.handlerID)
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

func (d *Dialer) device(ctx context.Context, creds *transport.Credentials) (*wastore.Device, error) {
	if creds == nil {
		return d.container.NewDevice(), nil
	}
	jid, err := decodeIdentity(creds.Blob)
	if err != nil {
		return nil, err
	}
	if jid.IsEmpty() {
		return d.container.NewDevice(), nil
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", jid, err)
	}
	if device == nil {
		d.logger.Warn("stored device not found, pairing again", zap.String("jid", jid.String()))
		return d.container.NewDevice(), nil
	}
	return device, nil
}

// pumpQR forwards pairing codes as connection updates.
func pumpQR(ch <-chan whatsmeow.QRChannelItem, handler transport.Handler, logger *zap.Logger) {
	for item := range ch {
		switch {
		case item.Event == whatsmeow.QRChannelEventCode:
			handler(transport.ConnectionUpdate{QR: item.Code})
		case item.Event == whatsmeow.QRChannelSuccess.Event:
			logger.Info("QR pairing succeeded")
		case item.Event == whatsmeow.QRChannelTimeout.Event:
			handler(transport.ConnectionUpdate{
				Connection: transport.ConnectionClose,
				Reason:     transport.ReasonChallengeExpired,
			})
		case item.Error != nil || strings.HasPrefix(item.Event, "err"):
			err := item.Error
			if err == nil {
				err = fmt.Errorf("pairing: %s", item.Event)
			}
			handler(transport.ConnectionUpdate{
				Connection: transport.ConnectionClose,
				Reason:     transport.ReasonConnectFailure,
				Err:        err,
			})
		}
	}
}
