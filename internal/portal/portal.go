package portal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"voxd/internal/config"
	"voxd/internal/domain"
)

const (
	// appID identifies the daemon to the portal and in GNOME's shortcut
	// schema. GNOME's GlobalShortcuts backend rejects apps without one.
	appID = "io.github.voxd"

	portalBusName    = "org.freedesktop.portal.Desktop"
	portalObjectPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")

	ifaceGlobalShortcuts = "org.freedesktop.portal.GlobalShortcuts"
	ifaceRemoteDesktop   = "org.freedesktop.portal.RemoteDesktop"
	ifaceRequest         = "org.freedesktop.portal.Request"
	ifaceSession         = "org.freedesktop.portal.Session"
	ifaceRegistry        = "org.freedesktop.host.portal.Registry"

	minGlobalShortcutsVersion = 1
	minRemoteDesktopVersion   = 2

	deviceKeyboard = uint32(1)

	// Device grants persist until the user revokes them in settings.
	persistModeExplicitlyRevoked = uint32(2)

	keyStateReleased = uint32(0)
	keyStatePressed  = uint32(1)
)

// Manager owns the two portal sessions the daemon needs: a GlobalShortcuts
// session delivering toggle activations and a RemoteDesktop session accepting
// synthetic keyboard events. The toggle channel is created once and survives
// renegotiation, so consumers never resubscribe.
type Manager struct {
	conn      *dbus.Conn
	shortcut  config.ShortcutConfig
	tokenPath string
	log       zerolog.Logger

	toggles chan domain.ToggleEvent
	errors  chan error
	waiters *responseWaiters
	signals chan *dbus.Signal

	mu        sync.Mutex
	valid     bool
	gsSession dbus.ObjectPath
	rdSession dbus.ObjectPath
}

func NewManager(conn *dbus.Conn, shortcut config.ShortcutConfig, tokenPath string, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		conn:      conn,
		shortcut:  shortcut,
		tokenPath: tokenPath,
		log:       log.With().Str("component", "portal").Logger(),
		toggles:   make(chan domain.ToggleEvent, 8),
		errors:    make(chan error, 1),
		waiters:   newResponseWaiters(),
	}

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(ifaceRequest), dbus.WithMatchMember("Response")},
		{dbus.WithMatchInterface(ifaceGlobalShortcuts), dbus.WithMatchMember("Activated")},
		{dbus.WithMatchInterface(ifaceSession), dbus.WithMatchMember("Closed")},
	}
	for _, opts := range matches {
		if err := conn.AddMatchSignal(opts...); err != nil {
			return nil, fmt.Errorf("subscribing to portal signals: %w", err)
		}
	}

	m.signals = make(chan *dbus.Signal, 64)
	conn.Signal(m.signals)
	go m.dispatch(m.signals)

	return m, nil
}

// Close tears down the portal sessions and stops signal dispatch. The
// manager cannot be reused afterwards.
func (m *Manager) Close(ctx context.Context) {
	m.closeSessions(ctx)
	m.conn.RemoveSignal(m.signals)
	close(m.signals)
}

func (m *Manager) Toggles() <-chan domain.ToggleEvent { return m.toggles }

func (m *Manager) Errors() <-chan error { return m.errors }

// Invalidate marks the sessions unusable. Keysym taps fail fast until
// Reconnect succeeds.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// Connect registers the app id, verifies portal capabilities and negotiates
// both sessions, preferring the persisted restore token.
func (m *Manager) Connect(ctx context.Context) error {
	m.registerAppID(ctx)
	if err := m.checkCapabilities(ctx); err != nil {
		return err
	}
	return m.negotiate(ctx)
}

// registerAppID announces the daemon's app id before any portal call. The
// call has no reply and registration failure is not fatal outside GNOME.
func (m *Manager) registerAppID(ctx context.Context) {
	call := m.portalObject().CallWithContext(ctx, ifaceRegistry+".Register", dbus.FlagNoReplyExpected,
		appID, map[string]dbus.Variant{})
	if call.Err != nil {
		m.log.Warn().Err(call.Err).Msg("app id registration failed; shortcut binding may be rejected")
		return
	}
	m.log.Info().Str("appId", appID).Msg("registered with portal")
}

// Reconnect tears down whatever is left of the old sessions and negotiates
// fresh ones.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.closeSessions(ctx)
	return m.negotiate(ctx)
}

func (m *Manager) checkCapabilities(ctx context.Context) error {
	gsVersion, err := m.interfaceVersion(ctx, ifaceGlobalShortcuts)
	if err != nil {
		return fmt.Errorf("global shortcuts portal unavailable: %w", err)
	}
	if gsVersion < minGlobalShortcutsVersion {
		return fmt.Errorf("global shortcuts portal version %d is below %d", gsVersion, minGlobalShortcutsVersion)
	}

	rdVersion, err := m.interfaceVersion(ctx, ifaceRemoteDesktop)
	if err != nil {
		return fmt.Errorf("remote desktop portal unavailable: %w", err)
	}
	if rdVersion < minRemoteDesktopVersion {
		return fmt.Errorf("remote desktop portal version %d is below %d (restore tokens need v2)", rdVersion, minRemoteDesktopVersion)
	}

	var avail dbus.Variant
	err = m.portalObject().CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0,
		ifaceRemoteDesktop, "AvailableDeviceTypes").Store(&avail)
	if err != nil {
		return fmt.Errorf("querying available device types: %w", err)
	}
	mask, ok := avail.Value().(uint32)
	if !ok || mask&deviceKeyboard == 0 {
		return fmt.Errorf("compositor does not offer keyboard injection (device mask %v)", avail.Value())
	}

	m.log.Info().Uint32("globalShortcuts", gsVersion).Uint32("remoteDesktop", rdVersion).Msg("portal capabilities verified")
	return nil
}

func (m *Manager) interfaceVersion(ctx context.Context, iface string) (uint32, error) {
	var v dbus.Variant
	err := m.portalObject().CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, "version").Store(&v)
	if err != nil {
		return 0, err
	}
	version, ok := v.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected version type %T", v.Value())
	}
	return version, nil
}

func (m *Manager) negotiate(ctx context.Context) error {
	writeShortcutDconf(ctx, m.shortcut, m.log)

	gsSession, err := m.createShortcutSession(ctx)
	if err != nil {
		return fmt.Errorf("creating shortcut session: %w", err)
	}
	if err := m.bindShortcut(ctx, gsSession); err != nil {
		return fmt.Errorf("binding shortcut: %w", err)
	}

	token := LoadToken(m.tokenPath, m.log)
	rdSession, newToken, err := m.startRemoteDesktop(ctx, token)
	if err != nil && token != "" {
		// The compositor rejected the persisted grant. Drop it and ask the
		// user again.
		m.log.Warn().Err(err).Msg("restore token rejected, renegotiating interactively")
		DeleteToken(m.tokenPath, m.log)
		rdSession, newToken, err = m.startRemoteDesktop(ctx, "")
	}
	if err != nil {
		return fmt.Errorf("starting remote desktop session: %w", err)
	}

	if newToken != "" {
		if err := SaveToken(m.tokenPath, newToken, m.log); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist restore token")
		}
	}

	m.mu.Lock()
	m.gsSession = gsSession
	m.rdSession = rdSession
	m.valid = true
	m.mu.Unlock()

	m.log.Info().Str("shortcut", m.shortcut.Trigger).Msg("portal sessions established")
	return nil
}

func (m *Manager) createShortcutSession(ctx context.Context) (dbus.ObjectPath, error) {
	token, predicted := m.waiters.nextToken(m.sender())
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(token),
		"session_handle_token": dbus.MakeVariant(token),
	}

	call := m.portalObject().CallWithContext(ctx, ifaceGlobalShortcuts+".CreateSession", 0, options)
	results, err := m.waiters.awaitResponse(ctx, predicted, call)
	if err != nil {
		return "", err
	}
	return sessionHandle(results)
}

type shortcutSpec struct {
	ID      string
	Options map[string]dbus.Variant
}

func (m *Manager) bindShortcut(ctx context.Context, session dbus.ObjectPath) error {
	token, predicted := m.waiters.nextToken(m.sender())
	shortcuts := []shortcutSpec{{
		ID: m.shortcut.ID,
		Options: map[string]dbus.Variant{
			"description":       dbus.MakeVariant(m.shortcut.Description),
			"preferred_trigger": dbus.MakeVariant(m.shortcut.Trigger),
		},
	}}
	options := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)}

	call := m.portalObject().CallWithContext(ctx, ifaceGlobalShortcuts+".BindShortcuts", 0,
		session, shortcuts, "", options)
	results, err := m.waiters.awaitResponse(ctx, predicted, call)
	if err != nil {
		return err
	}

	if !shortcutBound(results, m.shortcut.ID) {
		m.log.Warn().Str("id", m.shortcut.ID).Msg("shortcut not in bound list; compositor may assign its own trigger")
	}
	return nil
}

func (m *Manager) startRemoteDesktop(ctx context.Context, restoreToken string) (dbus.ObjectPath, string, error) {
	token, predicted := m.waiters.nextToken(m.sender())
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(token),
		"session_handle_token": dbus.MakeVariant(token),
	}
	call := m.portalObject().CallWithContext(ctx, ifaceRemoteDesktop+".CreateSession", 0, options)
	results, err := m.waiters.awaitResponse(ctx, predicted, call)
	if err != nil {
		return "", "", err
	}
	session, err := sessionHandle(results)
	if err != nil {
		return "", "", err
	}

	token, predicted = m.waiters.nextToken(m.sender())
	selectOpts := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
		"types":        dbus.MakeVariant(deviceKeyboard),
		"persist_mode": dbus.MakeVariant(persistModeExplicitlyRevoked),
	}
	if restoreToken != "" {
		selectOpts["restore_token"] = dbus.MakeVariant(restoreToken)
	}
	call = m.portalObject().CallWithContext(ctx, ifaceRemoteDesktop+".SelectDevices", 0, session, selectOpts)
	if _, err := m.waiters.awaitResponse(ctx, predicted, call); err != nil {
		return "", "", fmt.Errorf("selecting keyboard device: %w", err)
	}

	token, predicted = m.waiters.nextToken(m.sender())
	startOpts := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)}
	call = m.portalObject().CallWithContext(ctx, ifaceRemoteDesktop+".Start", 0, session, "", startOpts)
	results, err = m.waiters.awaitResponse(ctx, predicted, call)
	if err != nil {
		return "", "", fmt.Errorf("starting session: %w", err)
	}

	if !devicesIncludeKeyboard(results) {
		return "", "", fmt.Errorf("keyboard not granted by compositor")
	}

	return session, restoreTokenFrom(results), nil
}

// TapKeysym sends a press/release pair through the RemoteDesktop session.
// Failures mark the session invalid so the engine can recover.
func (m *Manager) TapKeysym(ctx context.Context, keysym uint32) error {
	m.mu.Lock()
	valid := m.valid
	session := m.rdSession
	m.mu.Unlock()
	if !valid {
		return fmt.Errorf("%w: no active session", domain.ErrPortalSessionInvalid)
	}

	noOpts := map[string]dbus.Variant{}
	for _, state := range []uint32{keyStatePressed, keyStateReleased} {
		call := m.portalObject().CallWithContext(ctx, ifaceRemoteDesktop+".NotifyKeyboardKeysym", 0,
			session, noOpts, int32(keysym), state)
		if call.Err != nil {
			m.Invalidate()
			return fmt.Errorf("%w: keysym notify failed: %v", domain.ErrPortalSessionInvalid, call.Err)
		}
	}
	return nil
}

func (m *Manager) dispatch(signals <-chan *dbus.Signal) {
	for sig := range signals {
		switch sig.Name {
		case ifaceRequest + ".Response":
			m.waiters.deliver(sig)
		case ifaceGlobalShortcuts + ".Activated":
			m.handleActivated(sig)
		case ifaceSession + ".Closed":
			m.handleSessionClosed(sig)
		}
	}
}

func (m *Manager) handleActivated(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	session, _ := sig.Body[0].(dbus.ObjectPath)
	id, _ := sig.Body[1].(string)

	m.mu.Lock()
	current := m.gsSession
	m.mu.Unlock()
	if session != current || id != m.shortcut.ID {
		return
	}

	select {
	case m.toggles <- domain.ToggleEvent{At: time.Now()}:
	default:
		m.log.Warn().Msg("toggle dropped: engine is not keeping up")
	}
}

func (m *Manager) handleSessionClosed(sig *dbus.Signal) {
	m.mu.Lock()
	known := sig.Path == m.gsSession || sig.Path == m.rdSession
	m.mu.Unlock()
	if !known {
		return
	}

	m.log.Warn().Str("session", string(sig.Path)).Msg("portal session closed by compositor")
	m.Invalidate()
	select {
	case m.errors <- fmt.Errorf("%w: session closed by compositor", domain.ErrPortalSessionInvalid):
	default:
	}
}

func (m *Manager) closeSessions(ctx context.Context) {
	m.mu.Lock()
	sessions := []dbus.ObjectPath{m.gsSession, m.rdSession}
	m.gsSession, m.rdSession = "", ""
	m.valid = false
	m.mu.Unlock()

	for _, session := range sessions {
		if session == "" {
			continue
		}
		obj := m.conn.Object(portalBusName, session)
		if call := obj.CallWithContext(ctx, ifaceSession+".Close", 0); call.Err != nil {
			m.log.Debug().Err(call.Err).Str("session", string(session)).Msg("closing old session failed")
		}
	}
}

func (m *Manager) portalObject() dbus.BusObject {
	return m.conn.Object(portalBusName, portalObjectPath)
}

func (m *Manager) sender() string {
	names := m.conn.Names()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// sessionHandle extracts the session object path from CreateSession results.
// Portals disagree on whether it is typed as a string or an object path.
func sessionHandle(results map[string]dbus.Variant) (dbus.ObjectPath, error) {
	v, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("portal response lacks session_handle")
	}
	switch h := v.Value().(type) {
	case dbus.ObjectPath:
		return h, nil
	case string:
		return dbus.ObjectPath(h), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type %T", v.Value())
	}
}

// shortcutBound reports whether the BindShortcuts results include the id.
func shortcutBound(results map[string]dbus.Variant, id string) bool {
	v, ok := results["shortcuts"]
	if !ok {
		return false
	}
	bound, ok := v.Value().([][]interface{})
	if !ok {
		return false
	}
	for _, entry := range bound {
		if len(entry) < 1 {
			continue
		}
		if boundID, ok := entry[0].(string); ok && boundID == id {
			return true
		}
	}
	return false
}

func devicesIncludeKeyboard(results map[string]dbus.Variant) bool {
	v, ok := results["devices"]
	if !ok {
		return false
	}
	mask, ok := v.Value().(uint32)
	return ok && mask&deviceKeyboard != 0
}

func restoreTokenFrom(results map[string]dbus.Variant) string {
	v, ok := results["restore_token"]
	if !ok {
		return ""
	}
	token, _ := v.Value().(string)
	return token
}
