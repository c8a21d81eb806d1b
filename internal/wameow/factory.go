// Package wameow implements the protocol socket on top of whatsmeow.
// The device store shares the application's database connection, so
// whatsmeow's tables live next to the gateway's own.
package wameow

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/bjo163/wagate/internal/app"
	"github.com/bjo163/wagate/internal/credstore"
	"github.com/bjo163/wagate/internal/waproto"
)

// Factory dials whatsmeow-backed sockets. One sqlstore container is
// shared across all sessions.
type Factory struct {
	app       app.AppContext
	container *sqlstore.Container
}

func NewFactory(a app.AppContext) (*Factory, error) {
	gdb := a.DB()
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain underlying sql.DB: %w", err)
	}

	driver := "sqlite3"
	switch strings.ToLower(strings.TrimSpace(a.Config().Database.Type)) {
	case "postgres", "postgresql":
		driver = "postgres"
	case "sqlite", "sqlite3", "":
		// sqlite migrations need foreign keys on
		if _, err := sqlDB.ExecContext(context.Background(), "PRAGMA foreign_keys = ON;"); err != nil {
			zap.L().Warn("unable to enable sqlite foreign_keys pragma", zap.Error(err))
		}
	}

	container := sqlstore.NewWithDB(sqlDB, driver, nil)
	if err := container.Upgrade(context.Background()); err != nil {
		return nil, fmt.Errorf("sqlstore upgrade failed: %w", err)
	}
	return &Factory{app: a, container: container}, nil
}

// Dial builds a socket for the session's credentials. A state that
// already carries a registered device JID reuses the stored device;
// anything else starts from a blank one.
func (f *Factory) Dial(ctx context.Context, state *credstore.State) (waproto.Socket, error) {
	device := f.container.NewDevice()
	if state.Creds != nil && state.Creds.Me != nil && state.Creds.Me.JID != "" {
		jid, err := waTypes.ParseJID(state.Creds.Me.JID)
		if err == nil {
			if d, derr := f.container.GetDevice(ctx, jid); derr == nil && d != nil {
				device = d
			}
		}
	}

	client := whatsmeow.NewClient(device, nil)
	sock := newSocket(client, state)
	return sock, nil
}
