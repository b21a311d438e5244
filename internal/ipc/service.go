package ipc

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/rs/zerolog"

	"voxd/internal/domain"
	"voxd/internal/portal"
)

const (
	// BusName is the daemon's well-known name on the session bus. Owning it
	// doubles as the single-instance lock.
	BusName    = "io.github.voxd.Daemon"
	ObjectPath = dbus.ObjectPath("/io/github/voxd/Daemon")
	Interface  = "io.github.voxd.Daemon1"
)

// Service is the daemon's D-Bus control surface: read-only state properties
// with change notifications, writable config properties, and a Shutdown
// method. It doubles as the engine's event sink so cycle outcomes land on
// the bus without an intermediary.
type Service struct {
	conn  *dbus.Conn
	props *prop.Properties
	store *Store
	log   zerolog.Logger
}

// Serve exports the service and claims the bus name.
func Serve(conn *dbus.Conn, store *Store, log zerolog.Logger) (*Service, error) {
	s := &Service{
		conn:  conn,
		store: store,
		log:   log.With().Str("component", "ipc").Logger(),
	}

	cfg := store.Config()
	spec := map[string]map[string]*prop.Prop{
		Interface: {
			"State":           {Value: string(domain.StateIdle), Emit: prop.EmitTrue},
			"PortalConnected": {Value: false, Emit: prop.EmitTrue},
			"LastTranscript":  {Value: "", Emit: prop.EmitTrue},
			"LastError":       {Value: "", Emit: prop.EmitTrue},
			"SampleRate":      {Value: uint32(cfg.Audio.SampleRate), Emit: prop.EmitTrue},
			"Channels":        {Value: uint32(cfg.Audio.Channels), Emit: prop.EmitTrue},
			"ShortcutTrigger": {
				Value:    cfg.Shortcut.Trigger,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: s.onShortcutTrigger,
			},
			"TranscriberConfig": {
				Value:    store.TranscriberJSON(),
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: s.onTranscriberConfig,
			},
			"InjectionConfig": {
				Value:    store.InjectionJSON(),
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: s.onInjectionConfig,
			},
		},
	}

	props, err := prop.Export(conn, ObjectPath, spec)
	if err != nil {
		return nil, fmt.Errorf("exporting properties: %w", err)
	}
	s.props = props

	methods := map[string]interface{}{
		"Shutdown":          s.Shutdown,
		"ClearRestoreToken": s.ClearRestoreToken,
	}
	if err := conn.ExportMethodTable(methods, ObjectPath, Interface); err != nil {
		return nil, fmt.Errorf("exporting methods: %w", err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       Interface,
				Methods:    []introspect.Method{{Name: "Shutdown"}, {Name: "ClearRestoreToken"}},
				Properties: props.Introspection(Interface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("exporting introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("claiming bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("%s is already owned: another instance is running", BusName)
	}

	s.log.Info().Str("name", BusName).Msg("control surface exported")
	return s, nil
}

// Shutdown stops the daemon. Exported on the bus.
func (s *Service) Shutdown() *dbus.Error {
	s.log.Info().Msg("shutdown requested over the bus")
	s.store.RequestShutdown()
	return nil
}

// ClearRestoreToken removes the persisted device grant; the next session
// negotiation prompts the user again. Exported on the bus.
func (s *Service) ClearRestoreToken() *dbus.Error {
	portal.DeleteToken(s.store.Config().TokenPath(), s.log)
	return nil
}

func (s *Service) onShortcutTrigger(c *prop.Change) *dbus.Error {
	trigger, ok := c.Value.(string)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("ShortcutTrigger must be a string"))
	}
	if err := s.store.SetShortcutTrigger(trigger); err != nil {
		return dbus.MakeFailedError(err)
	}
	s.log.Info().Str("trigger", trigger).Msg("shortcut trigger updated, restarting session")
	s.store.RequestRestart()
	return nil
}

func (s *Service) onTranscriberConfig(c *prop.Change) *dbus.Error {
	raw, ok := c.Value.(string)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("TranscriberConfig must be a JSON string"))
	}
	if err := s.store.SetTranscriberJSON(raw); err != nil {
		return dbus.MakeFailedError(err)
	}
	s.log.Info().Msg("transcriber config updated, restarting session")
	s.store.RequestRestart()
	return nil
}

func (s *Service) onInjectionConfig(c *prop.Change) *dbus.Error {
	raw, ok := c.Value.(string)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("InjectionConfig must be a JSON string"))
	}
	if err := s.store.SetInjectionJSON(raw); err != nil {
		return dbus.MakeFailedError(err)
	}
	s.log.Info().Msg("injection config updated, restarting session")
	s.store.RequestRestart()
	return nil
}

// --- ports.EventSink ---

func (s *Service) StateChanged(state domain.EngineState) {
	s.props.SetMust(Interface, "State", string(state))
}

func (s *Service) PartialTranscript(text string) {
	s.props.SetMust(Interface, "LastTranscript", text)
}

func (s *Service) FinalTranscript(text string) {
	s.props.SetMust(Interface, "LastTranscript", text)
}

func (s *Service) CycleError(code domain.ErrorCode, detail string) {
	s.props.SetMust(Interface, "LastError", fmt.Sprintf("%s: %s", code, detail))
}

func (s *Service) PortalConnected(connected bool) {
	s.props.SetMust(Interface, "PortalConnected", connected)
}
