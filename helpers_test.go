package daemon

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"
)

// newObservedLogger returns a Logger whose entries can be inspected.
func newObservedLogger() (Logger, *zapobserver.ObservedLogs) {
	core, logs := zapobserver.New(zapcore.DebugLevel)
	return NewZapLogger(zap.New(core)), logs
}

// testNode is an in-memory ConfigNode.
type testNode struct {
	name     string
	path     string
	props    map[string]any
	children []*testNode
}

func newTestNode(name string, props map[string]any) *testNode {
	if props == nil {
		props = map[string]any{}
	}
	return &testNode{name: name, path: "/" + name, props: props}
}

// add appends child and returns the parent for chaining.
func (n *testNode) add(children ...*testNode) *testNode {
	for _, c := range children {
		c.setPath(n.path)
		n.children = append(n.children, c)
	}
	return n
}

func (n *testNode) setPath(parent string) {
	n.path = path.Join(parent, n.name)
	for _, c := range n.children {
		c.setPath(n.path)
	}
}

func (n *testNode) Name() string { return n.name }
func (n *testNode) Path() string { return n.path }

func (n *testNode) Property(name string) (any, bool) {
	v, ok := n.props[name]
	return v, ok
}

func (n *testNode) String(name, def string) string {
	if v, ok := n.props[name]; ok {
		return fmt.Sprint(v)
	}
	return def
}

func (n *testNode) Bool(name string, def bool) bool {
	if v, ok := n.props[name].(bool); ok {
		return v
	}
	return def
}

func (n *testNode) Int(name string, def int) int {
	if v, ok := n.props[name].(int); ok {
		return v
	}
	return def
}

func (n *testNode) Child(name string) (ConfigNode, bool) {
	for _, c := range n.children {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

func (n *testNode) Children() []ConfigNode {
	out := make([]ConfigNode, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// modulesTree builds /hippo:configuration/hippo:modules with the given
// module entries.
func modulesTree(entries ...*testNode) *testNode {
	root := newTestNode("", nil)
	root.path = "/"
	modules := newTestNode("hippo:modules", nil).add(entries...)
	root.add(newTestNode("hippo:configuration", nil).add(modules))
	return root
}

// moduleEntry builds one module entry node, optionally with a moduleconfig.
func moduleEntry(name, className string, cmsOnly bool, config map[string]any) *testNode {
	props := map[string]any{}
	if className != "" {
		props[PropertyClassName] = className
	}
	if cmsOnly {
		props[PropertyCMSOnly] = true
	}
	entry := newTestNode(name, props)
	if config != nil {
		entry.add(newTestNode(NodeModuleConfig, config))
	}
	return entry
}

// testRepo hands out sessions over a testNode tree and counts open ones.
type testRepo struct {
	mu             sync.Mutex
	root           *testNode
	open           int
	impersonateErr error
}

func newTestRepo(root *testNode) *testRepo {
	if root == nil {
		root = modulesTree()
	}
	return &testRepo{root: root}
}

func (r *testRepo) login(user string) *testSession {
	r.mu.Lock()
	r.open++
	r.mu.Unlock()
	return &testSession{repo: r, user: user}
}

func (r *testRepo) openSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

type testSession struct {
	repo   *testRepo
	user   string
	mu     sync.Mutex
	closed bool
}

func (s *testSession) UserID() string { return s.user }

func (s *testSession) Impersonate(creds Credentials) (Session, error) {
	if s.repo.impersonateErr != nil {
		return nil, s.repo.impersonateErr
	}
	return s.repo.login(creds.UserID), nil
}

func (s *testSession) Node(p string) (ConfigNode, error) {
	n := s.repo.root
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		child, ok := n.Child(part)
		if !ok {
			return nil, fmt.Errorf("no node at %s", p)
		}
		n = child.(*testNode)
	}
	return n, nil
}

func (s *testSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.repo.mu.Lock()
		s.repo.open--
		s.repo.mu.Unlock()
	}
	return nil
}

func (s *testSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// callLog records lifecycle calls across modules in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

// with returns the recorded calls with the given prefix, prefix stripped.
func (l *callLog) with(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.calls {
		if rest, ok := strings.CutPrefix(c, prefix+":"); ok {
			out = append(out, rest)
		}
	}
	return out
}

// testModule is a DaemonModule whose type name is its name, so After hints
// can refer to it.
type testModule struct {
	name        string
	deps        Dependencies
	log         *callLog
	initErr     error
	initPanic   bool
	shutdownErr error

	mu        sync.Mutex
	session   Session
	inits     int
	shutdowns int
}

func newTestModule(name string, log *callLog) *testModule {
	return &testModule{name: name, log: log}
}

func (m *testModule) provides(svcs ...string) *testModule {
	m.deps.Provides = append(m.deps.Provides, svcs...)
	return m
}

func (m *testModule) requires(svc string, optional bool) *testModule {
	m.deps.Requires = append(m.deps.Requires, svc)
	m.deps.Optional = append(m.deps.Optional, optional)
	return m
}

func (m *testModule) after(types ...string) *testModule {
	m.deps.After = append(m.deps.After, types...)
	return m
}

func (m *testModule) TypeName() string            { return m.name }
func (m *testModule) Dependencies() Dependencies { return m.deps }

func (m *testModule) Initialize(ctx context.Context, session Session) error {
	m.mu.Lock()
	m.inits++
	m.session = session
	m.mu.Unlock()
	if m.log != nil {
		m.log.add("init:" + m.name)
	}
	if m.initPanic {
		panic("boom in " + m.name)
	}
	return m.initErr
}

func (m *testModule) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdowns++
	m.mu.Unlock()
	if m.log != nil {
		m.log.add("shutdown:" + m.name)
	}
	return m.shutdownErr
}

func (m *testModule) counts() (inits, shutdowns int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits, m.shutdowns
}

// configurableModule records the node it is configured with.
type configurableModule struct {
	*testModule
	configErr error

	cfgMu        sync.Mutex
	configured   ConfigNode
	reconfigured []ConfigNode
	reconfigErr  error
	block        chan struct{}
}

func newConfigurableModule(name string, log *callLog) *configurableModule {
	return &configurableModule{testModule: newTestModule(name, log)}
}

func (m *configurableModule) Configure(node ConfigNode) error {
	m.cfgMu.Lock()
	m.configured = node
	m.cfgMu.Unlock()
	if m.log != nil {
		m.log.add("configure:" + m.name)
	}
	return m.configErr
}

func (m *configurableModule) Reconfigure(ctx context.Context, node ConfigNode) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.cfgMu.Lock()
	m.reconfigured = append(m.reconfigured, node)
	m.cfgMu.Unlock()
	if m.log != nil {
		m.log.add("reconfigure:" + m.name)
	}
	return m.reconfigErr
}

func (m *configurableModule) configuredNode() ConfigNode {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.configured
}

func (m *configurableModule) reconfigureCount() int {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return len(m.reconfigured)
}

// plainModule has no metadata and no TypeName.
type plainModule struct{}

func (plainModule) Initialize(context.Context, Session) error { return nil }
func (plainModule) Shutdown(context.Context) error            { return nil }

// eventRecorder is an Observer that keeps every event it sees.
type eventRecorder struct {
	id     string
	mu     sync.Mutex
	events []cloudevents.Event
	err    error
	panics bool
}

func newEventRecorder(id string) *eventRecorder {
	return &eventRecorder{id: id}
}

func (r *eventRecorder) OnEvent(ctx context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.panics {
		panic("observer boom")
	}
	return r.err
}

func (r *eventRecorder) ObserverID() string { return r.id }

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

// moduleNames returns the moduleName data of events of one type.
func (r *eventRecorder) moduleNames(t *testing.T, eventType string) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type() != eventType {
			continue
		}
		var data map[string]any
		if err := e.DataAs(&data); err != nil {
			t.Fatalf("decode %s data: %v", eventType, err)
		}
		name, _ := data["moduleName"].(string)
		out = append(out, name)
	}
	return out
}

var errBoom = errors.New("boom")

// names lists registration names.
func names(regs []*ModuleRegistration) []string {
	return registrationNames(regs)
}
