package server

import (
	"errors"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"github.com/zeroc-ice/ice-sub018/rpc/transport/base"
	"sync"
	"time"
)

var Logger = logger.GetLogger(common.LoggerAdapter)

// Names of the built-in object operations
const (
	OpIsA  = "ice_isA"
	OpPing = "ice_ping"
	OpIds  = "ice_ids"
	OpID   = "ice_id"
)

// ObjectAdapter maps identities and facets to servants and dispatches requests
// to them. It listens on its configured endpoints once activated. An adapter
// without endpoints can still serve requests arriving on outgoing connections
// it is installed on (bidirectional use).
type ObjectAdapter struct {
	name       string
	config     common.ServerConfig
	serializer serializer.IRPCSerializer
	connectors map[string]transport.IConnector

	// identity -> facet -> servant, writers hold mu
	servants *xsync.MapOf[common.Identity, *xsync.MapOf[string, Servant]]
	mu       sync.Mutex

	listeners []*base.Listener
	active    bool

	dispatchTimer gometrics.Timer
}

// NewObjectAdapter creates an adapter. The connectors are looked up by the
// transport of each configured endpoint.
//
// Usage:
//
//	adapter := server.NewObjectAdapter("demo", config, serializer.NewBinarySerializer(), tcp.NewConnector())
//	adapter.Add(common.Identity{Name: "hello"}, servant)
//	if err := adapter.Activate(); err != nil {
//		panic(err)
//	}
func NewObjectAdapter(name string, config common.ServerConfig, s serializer.IRPCSerializer, connectors ...transport.IConnector) *ObjectAdapter {
	byName := make(map[string]transport.IConnector, len(connectors))
	for _, c := range connectors {
		byName[c.GetName()] = c
	}

	return &ObjectAdapter{
		name:          name,
		config:        config,
		serializer:    s,
		connectors:    byName,
		servants:      xsync.NewMapOf[common.Identity, *xsync.MapOf[string, Servant]](),
		dispatchTimer: gometrics.NewTimer(),
	}
}

// Name returns the name of the adapter
func (a *ObjectAdapter) Name() string {
	return a.name
}

// --------------------------------------------------------------------------
// Servant registry
// --------------------------------------------------------------------------

// Add registers servant for id with the default facet
func (a *ObjectAdapter) Add(id common.Identity, servant Servant) error {
	return a.AddFacet(id, "", servant)
}

// AddFacet registers servant for id and facet
func (a *ObjectAdapter) AddFacet(id common.Identity, facet string, servant Servant) error {
	if !id.IsValid() {
		return &common.IllegalIdentityError{Identity: id}
	}
	if servant == nil {
		return errors.New("servant must not be nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	facets, _ := a.servants.LoadOrCompute(id, func() *xsync.MapOf[string, Servant] {
		return xsync.NewMapOf[string, Servant]()
	})
	if _, loaded := facets.LoadOrStore(facet, servant); loaded {
		return &AlreadyRegisteredError{ID: id.String(), Facet: facet}
	}

	Logger.Debugf("Adapter %s: added servant %q facet %q", a.name, id.String(), facet)
	return nil
}

// AddWithUUID registers servant under a new identity with a random name
func (a *ObjectAdapter) AddWithUUID(servant Servant) (common.Identity, error) {
	id := common.Identity{Name: uuid.NewString()}
	return id, a.Add(id, servant)
}

// Remove removes the servant of id with the default facet
func (a *ObjectAdapter) Remove(id common.Identity) (Servant, error) {
	return a.RemoveFacet(id, "")
}

// RemoveFacet removes the servant of id and facet
func (a *ObjectAdapter) RemoveFacet(id common.Identity, facet string) (Servant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	facets, ok := a.servants.Load(id)
	if !ok {
		return nil, &NotRegisteredError{ID: id.String(), Facet: facet}
	}
	servant, ok := facets.LoadAndDelete(facet)
	if !ok {
		return nil, &NotRegisteredError{ID: id.String(), Facet: facet}
	}
	if facets.Size() == 0 {
		a.servants.Delete(id)
	}
	return servant, nil
}

// Find returns the servant of id with the default facet
func (a *ObjectAdapter) Find(id common.Identity) (Servant, bool) {
	return a.FindFacet(id, "")
}

// FindFacet returns the servant of id and facet
func (a *ObjectAdapter) FindFacet(id common.Identity, facet string) (Servant, bool) {
	facets, ok := a.servants.Load(id)
	if !ok {
		return nil, false
	}
	return facets.Load(facet)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Activate starts listening on all configured endpoints
func (a *ObjectAdapter) Activate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active {
		return nil
	}

	for _, ep := range a.config.Endpoints {
		connector, ok := a.connectors[ep.Transport]
		if !ok {
			a.closeListeners()
			return fmt.Errorf("no connector for transport %q of endpoint %s", ep.Transport, ep)
		}

		l, err := base.Listen(connector, ep, a.serializer, a.config, a)
		if err != nil {
			a.closeListeners()
			return fmt.Errorf("adapter %s: %w", a.name, err)
		}
		a.listeners = append(a.listeners, l)
		go l.Serve()
	}

	a.active = true
	Logger.Infof("Adapter %s activated on %d endpoints", a.name, len(a.listeners))
	return nil
}

// Endpoints returns the endpoints the adapter listens on, with resolved ports
func (a *ObjectAdapter) Endpoints() []common.Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	eps := make([]common.Endpoint, 0, len(a.listeners))
	for _, l := range a.listeners {
		eps = append(eps, l.Endpoint())
	}
	return eps
}

// Deactivate stops listening and closes all incoming connections
func (a *ObjectAdapter) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return
	}
	a.closeListeners()
	a.active = false

	Logger.Infof("Adapter %s deactivated after %d dispatches (mean %s)",
		a.name, a.dispatchTimer.Count(), time.Duration(a.dispatchTimer.Mean()))
}

// DispatchTimer returns the timer tracking dispatch latency
func (a *ObjectAdapter) DispatchTimer() gometrics.Timer {
	return a.dispatchTimer
}

// closeListeners closes and forgets all listeners, the caller must hold a.mu
func (a *ObjectAdapter) closeListeners() {
	for _, l := range a.listeners {
		if err := l.Close(); err != nil {
			Logger.Warningf("Adapter %s: failed to close listener %s: %v", a.name, l.Endpoint(), err)
		}
		<-l.Done()
	}
	a.listeners = nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IDispatcher)
// --------------------------------------------------------------------------

func (a *ObjectAdapter) Dispatch(conn transport.IConnection, req *common.Message) *common.Message {
	start := time.Now()
	defer a.dispatchTimer.UpdateSince(start)

	current := &Current{
		Adapter:   a,
		Con:       conn,
		Identity:  req.Identity,
		Facet:     req.Facet,
		Operation: req.Operation,
		Mode:      req.Mode,
		Ctx:       req.Context,
	}

	out := serializer.NewOutputStream()
	if err := a.dispatch(current, serializer.NewInputStream(req.Params), out); err != nil {
		reply := common.NewErrorReply(req, err)
		metrics.GetOrCreateCounter(fmt.Sprintf(`ice_dispatch_total{status=%q}`, reply.Status.String())).Inc()
		if reply.Status == common.ReplyUnknownException {
			Logger.Warningf("Adapter %s: %s on %q failed: %v", a.name, req.Operation, req.Identity.String(), err)
		}
		return reply
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`ice_dispatch_total{status=%q}`, common.ReplyOK.String())).Inc()
	return common.NewReply(out.Bytes())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dispatch locates the servant and runs the operation. Panics of the servant
// are reported as unknown errors.
func (a *ObjectAdapter) dispatch(current *Current, in *serializer.InputStream, out *serializer.OutputStream) (err error) {
	servant, err := a.lookup(current)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = &common.UnknownError{Reason: fmt.Sprintf("servant panic: %v", r)}
		}
	}()

	switch current.Operation {
	case OpPing:
		servant.IcePing(current)
		return nil
	case OpIsA:
		typeID, err := in.ReadString()
		if err != nil {
			return err
		}
		out.WriteBool(servant.IceIsA(typeID, current))
		return nil
	case OpIds:
		return out.WriteStringSeq(servant.IceIds(current))
	case OpID:
		return out.WriteString(servant.IceID(current))
	default:
		return servant.Dispatch(current, in, out)
	}
}

// lookup finds the servant for the identity and facet of current
func (a *ObjectAdapter) lookup(current *Current) (Servant, error) {
	facets, ok := a.servants.Load(current.Identity)
	if !ok {
		return nil, &common.ObjectNotExistError{RequestFailed: current.requestFailed()}
	}
	servant, ok := facets.Load(current.Facet)
	if !ok {
		return nil, &common.FacetNotExistError{RequestFailed: current.requestFailed()}
	}
	return servant, nil
}
