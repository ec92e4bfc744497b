package notify

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	method string
	args   [][]interface{}
	nextID uint32
	err    error
}

func (f *fakeObject) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.method = method
	f.args = append(f.args, args)
	if f.err != nil {
		return &dbus.Call{Err: f.err}
	}
	f.nextID++
	return &dbus.Call{Body: []interface{}{f.nextID}}
}

func TestDBusNotifierReplacesPreviousNotification(t *testing.T) {
	obj := &fakeObject{nextID: 40}
	n := &DBusNotifier{obj: obj}

	require.NoError(t, n.Notify("Superseded", "DP-1 taken over"))
	require.NoError(t, n.Notify("Superseded", "all outputs taken over"))

	assert.Equal(t, notifyMethod, obj.method)
	require.Len(t, obj.args, 2)
	assert.Equal(t, appName, obj.args[0][0])
	assert.Equal(t, uint32(0), obj.args[0][1])
	assert.Equal(t, "Superseded", obj.args[0][3])
	assert.Equal(t, "DP-1 taken over", obj.args[0][4])
	// the second call replaces the first notification
	assert.Equal(t, uint32(41), obj.args[1][1])
	assert.Equal(t, uint32(42), n.lastID)
}

func TestDBusNotifierPropagatesCallError(t *testing.T) {
	n := &DBusNotifier{obj: &fakeObject{err: errors.New("no server")}}
	err := n.Notify("a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no server")
	assert.NoError(t, n.Close())
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Notify("a", "b"))
	assert.NoError(t, n.Close())
}
