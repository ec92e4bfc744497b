package window

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/focushist/internal/logger"
)

const (
	atomActiveWindow = "_NET_ACTIVE_WINDOW"
	atomClientList   = "_NET_CLIENT_LIST"
	atomWMName       = "_NET_WM_NAME"
)

// X11Backend implements the Backend interface for EWMH window managers,
// placing windows on outputs through RandR
type X11Backend struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

// outputRect is a RandR output and the area of the screen it shows
type outputRect struct {
	name          string
	x, y          int
	width, height int
}

func (r outputRect) contains(x, y int) bool {
	return x >= r.x && x < r.x+r.width && y >= r.y && y < r.y+r.height
}

// NewX11Backend creates an unconnected X11 backend
func NewX11Backend() *X11Backend {
	return &X11Backend{atoms: make(map[string]xproto.Atom)}
}

// Connect opens the X connection and initializes RandR
func (b *X11Backend) Connect() error {
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	if err := randr.Init(conn); err != nil {
		conn.Close()
		return fmt.Errorf("randr extension unavailable: %w", err)
	}

	b.conn = conn
	b.root = xproto.Setup(conn).DefaultScreen(conn).Root

	for _, name := range []string{atomActiveWindow, atomClientList, atomWMName} {
		atom, err := b.getAtom(name)
		if err != nil {
			conn.Close()
			return fmt.Errorf("intern %s: %w", name, err)
		}
		b.atoms[name] = atom
	}

	logger.WithComponent("x11-backend").Info().Msg("Connected to X server")
	return nil
}

// Close closes the X connection
func (b *X11Backend) Close() error {
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return BackendX11
}

// getAtom gets an atom ID by name
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

func (b *X11Backend) activeWindow(conn *xgb.Conn) (xproto.Window, error) {
	reply, err := xproto.GetProperty(conn, false, b.root, b.atoms[atomActiveWindow],
		xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		return 0, err
	}
	if len(reply.Value) < 4 {
		return 0, ErrNotFound
	}
	win := xproto.Window(xgb.Get32(reply.Value))
	if win == 0 {
		return 0, ErrNotFound
	}
	return win, nil
}

func (b *X11Backend) clientList() ([]xproto.Window, error) {
	reply, err := xproto.GetProperty(b.conn, false, b.root, b.atoms[atomClientList],
		xproto.AtomWindow, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, err
	}
	windows := make([]xproto.Window, 0, reply.ValueLen)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		windows = append(windows, xproto.Window(xgb.Get32(reply.Value[i:])))
	}
	return windows, nil
}

// outputRects lists active RandR outputs with their CRTC geometry
func (b *X11Backend) outputRects() ([]outputRect, error) {
	res, err := randr.GetScreenResourcesCurrent(b.conn, b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("randr screen resources: %w", err)
	}

	var rects []outputRect
	for _, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(b.conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil || info.Width == 0 || info.Height == 0 {
			continue
		}
		for _, out := range info.Outputs {
			outInfo, err := randr.GetOutputInfo(b.conn, out, res.ConfigTimestamp).Reply()
			if err != nil {
				continue
			}
			rects = append(rects, outputRect{
				name:   string(outInfo.Name),
				x:      int(info.X),
				y:      int(info.Y),
				width:  int(info.Width),
				height: int(info.Height),
			})
		}
	}
	return rects, nil
}

// windowCentre returns the root-relative centre of a window
func (b *X11Backend) windowCentre(win xproto.Window) (int, int, error) {
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return 0, 0, err
	}
	pos, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply()
	if err != nil {
		return 0, 0, err
	}
	return int(pos.DstX) + int(geom.Width)/2, int(pos.DstY) + int(geom.Height)/2, nil
}

func outputAt(rects []outputRect, x, y int) string {
	for _, r := range rects {
		if r.contains(x, y) {
			return r.name
		}
	}
	return ""
}

func (b *X11Backend) placeWindow(win xproto.Window, rects []outputRect) string {
	x, y, err := b.windowCentre(win)
	if err != nil {
		return ""
	}
	return outputAt(rects, x, y)
}

// getTitle reads _NET_WM_NAME
func (b *X11Backend) getTitle(win xproto.Window) string {
	reply, err := xproto.GetProperty(b.conn, false, win, b.atoms[atomWMName],
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil || reply.ValueLen == 0 {
		return ""
	}
	return string(reply.Value)
}

// FocusedWindow returns the window named by _NET_ACTIVE_WINDOW
func (b *X11Backend) FocusedWindow(_ context.Context) (*Window, error) {
	win, err := b.activeWindow(b.conn)
	if err != nil {
		return nil, err
	}
	rects, err := b.outputRects()
	if err != nil {
		return nil, err
	}
	return &Window{
		ID:       formatXID(win),
		OutputID: b.placeWindow(win, rects),
		Title:    b.getTitle(win),
	}, nil
}

// Placements places every managed client on the output holding its centre
func (b *X11Backend) Placements(_ context.Context) (Placements, error) {
	clients, err := b.clientList()
	if err != nil {
		return nil, err
	}
	rects, err := b.outputRects()
	if err != nil {
		return nil, err
	}
	placements := make(Placements, len(clients))
	for _, win := range clients {
		placements[formatXID(win)] = b.placeWindow(win, rects)
	}
	return placements, nil
}

// Outputs lists active RandR output names
func (b *X11Backend) Outputs(_ context.Context) ([]string, error) {
	rects, err := b.outputRects()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rects))
	for _, r := range rects {
		names = append(names, r.name)
	}
	return names, nil
}

// Focus asks the window manager to activate the window
func (b *X11Backend) Focus(_ context.Context, windowID string) error {
	win, err := parseXID(windowID)
	if err != nil {
		return err
	}
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   b.atoms[atomActiveWindow],
		// source indication 2: request comes from a pager-like tool
		Data: xproto.ClientMessageDataUnionData32New([]uint32{2, xproto.TimeCurrentTime, 0, 0, 0}),
	}
	const mask = xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify
	if err := xproto.SendEventChecked(b.conn, false, b.root, mask, string(ev.Bytes())).Check(); err != nil {
		return fmt.Errorf("activate %s: %w", windowID, err)
	}
	return nil
}

// WatchFocus follows _NET_ACTIVE_WINDOW changes on the root window
func (b *X11Backend) WatchFocus(ctx context.Context, fn func(FocusChange)) error {
	log := logger.WithComponent("x11-backend")

	// Dedicated connection so the event queue only carries root property changes
	watchConn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer watchConn.Close()

	if err := xproto.ChangeWindowAttributesChecked(
		watchConn,
		b.root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check(); err != nil {
		return fmt.Errorf("failed to set event mask: %w", err)
	}

	stop := context.AfterFunc(ctx, watchConn.Close)
	defer stop()

	var last xproto.Window
	for {
		ev, xerr := watchConn.WaitForEvent()
		if ev == nil && xerr == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("x11 event stream closed")
		}
		if xerr != nil {
			log.Debug().Str("error", xerr.Error()).Msg("X error while watching focus")
			continue
		}

		prop, ok := ev.(xproto.PropertyNotifyEvent)
		if !ok || prop.Atom != b.atoms[atomActiveWindow] {
			continue
		}

		win, err := b.activeWindow(watchConn)
		if err != nil || win == last {
			continue
		}
		last = win

		change := FocusChange{WindowID: formatXID(win), At: time.Now()}
		if rects, err := b.outputRects(); err == nil {
			change.OutputID = b.placeWindow(win, rects)
		} else {
			log.Debug().Err(err).Msg("Failed to read RandR outputs")
		}
		fn(change)
	}
}

func formatXID(win xproto.Window) string {
	return fmt.Sprintf("0x%x", uint32(win))
}

func parseXID(id string) (xproto.Window, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(id), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid X window id %q: %w", id, err)
	}
	return xproto.Window(v), nil
}
