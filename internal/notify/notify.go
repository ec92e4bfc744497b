// Package notify sends freedesktop desktop notifications over the session bus.
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/focushist/internal/logger"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notifyMethod         = notificationsService + ".Notify"

	appName = "focushist"

	// DefaultExpireMs is the expiry hint passed to the notification server
	DefaultExpireMs int32 = 5000
)

// Notifier posts desktop notifications
type Notifier interface {
	Notify(summary, body string) error
	Close() error
}

// caller is the subset of dbus.BusObject used here
type caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DBusNotifier talks to org.freedesktop.Notifications
type DBusNotifier struct {
	conn *dbus.Conn
	obj  caller

	mu     sync.Mutex
	lastID uint32
}

// NewDBusNotifier connects to the session bus
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBusNotifier{
		conn: conn,
		obj:  conn.Object(notificationsService, dbus.ObjectPath(notificationsPath)),
	}, nil
}

// Notify shows a notification, replacing the previous one from this notifier
func (n *DBusNotifier) Notify(summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	call := n.obj.Call(notifyMethod, 0,
		appName,
		n.lastID,
		"",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))},
		DefaultExpireMs,
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: decode reply: %w", err)
	}
	n.lastID = id
	logger.WithComponent("notify").Debug().Uint32("id", id).Str("summary", summary).Msg("Posted notification")
	return nil
}

// Close closes the bus connection
func (n *DBusNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Nop discards notifications
type Nop struct{}

func (Nop) Notify(string, string) error { return nil }
func (Nop) Close() error                { return nil }
