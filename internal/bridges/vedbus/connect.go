package vedbus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Connect opens a private connection to the session or system bus.
//
// Each published service needs its own connection: services share object
// paths such as /Ac/Power, and a connection can export a path only once.
func Connect(useSession bool) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if useSession {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return conn, nil
}
