// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package game is the in-memory registry of device classes, type tag links
// and device instances that game code runs against.
//
// A Game is not safe for concurrent use. It lives inside a sandbox worker,
// which serializes every call.
package game

import (
	"errors"
	"log/slog"
	"maps"
	"sort"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/emitter"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/schema"
	"github.com/tetgame/tet/pkg/errutil"
)

// RedefinitionPolicy decides what registering an existing class name does.
type RedefinitionPolicy int

const (
	// Overwrite replaces the class. Devices of that class are rebound to the
	// new definition and keep their state when it is still valid.
	Overwrite RedefinitionPolicy = iota
	// Reject fails with CodeClassExists.
	Reject
)

// ParseRedefinitionPolicy maps a config value to a policy.
func ParseRedefinitionPolicy(s string) (RedefinitionPolicy, error) {
	switch s {
	case "", "overwrite":
		return Overwrite, nil
	case "reject":
		return Reject, nil
	}
	return Overwrite, oops.Errorf("unknown class redefinition policy %q", s)
}

// Device is a snapshot of a device instance.
type Device struct {
	ID    string
	Class *DeviceClass
	State any
}

// Source identifies where an event came from.
type Source struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

// Event is an event delivered to the registry.
type Event struct {
	Source Source
	Name   string
	Data   any
}

// StateChange is emitted after a device state was updated.
type StateChange struct {
	ID    string
	State any
}

type notification int

const stateChanged notification = iota

type device struct {
	id    string
	class *DeviceClass
	state any
}

func (d *device) snapshot() Device {
	state, _ := schema.Normalize(d.state)
	return Device{ID: d.id, Class: d.class, State: state}
}

// Game is the device registry.
type Game struct {
	classes map[string]*DeviceClass
	devices map[string]*device
	links   map[string]string

	policy  RedefinitionPolicy
	logger  *slog.Logger
	onError func(error)
	changes emitter.Emitter[notification, StateChange]
}

// Option configures a Game.
type Option func(*Game)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Game) { g.logger = l }
}

// WithRedefinitionPolicy sets what happens when a class name is registered twice.
func WithRedefinitionPolicy(p RedefinitionPolicy) Option {
	return func(g *Game) { g.policy = p }
}

// WithErrorSink receives failures the registry swallows, such as handler
// errors. They are logged either way.
func WithErrorSink(fn func(error)) Option {
	return func(g *Game) { g.onError = fn }
}

// New returns an empty registry.
func New(opts ...Option) *Game {
	g := &Game{
		classes: make(map[string]*DeviceClass),
		devices: make(map[string]*device),
		links:   make(map[string]string),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnStateChange registers fn for device state updates.
func (g *Game) OnStateChange(fn func(StateChange)) func() {
	return g.changes.On(stateChanged, func(sc StateChange) error {
		fn(sc)
		return nil
	})
}

// DefineDeviceClass creates and registers a class.
func (g *Game) DefineDeviceClass(name string, state *schema.Type, events map[string]*schema.Type) (*DeviceClass, error) {
	c, err := NewDeviceClass(name, state, events)
	if err != nil {
		return nil, err
	}
	if err := g.RegisterDeviceClass(c); err != nil {
		return nil, err
	}
	return c, nil
}

// RegisterDeviceClass stores c under its name, subject to the redefinition policy.
func (g *Game) RegisterDeviceClass(c *DeviceClass) error {
	if _, exists := g.classes[c.name]; exists {
		if g.policy == Reject {
			return oops.In("game").Code(CodeClassExists).With("class", c.name).Errorf("device class %q is already defined", c.name)
		}
		g.logger.Warn("redefining device class", "class", c.name)
		g.classes[c.name] = c
		g.rebind(c)
		return nil
	}
	g.classes[c.name] = c
	g.logger.Debug("device class defined", "class", c.name, "events", c.Events())
	return nil
}

func (g *Game) rebind(c *DeviceClass) {
	for _, id := range g.sortedDeviceIDs() {
		d := g.devices[id]
		if d.class.name != c.name {
			continue
		}
		d.class = c
		if c.Validate(d.state) == nil {
			continue
		}
		d.state = c.Default()
		g.logger.Info("device state reset after class redefinition", "device", id, "class", c.name)
		g.emitChange(d)
	}
}

// CreateDevice creates (or replaces) device id of class className. A nil
// initialState selects the class default; otherwise a copy of it is stored
// after validation.
func (g *Game) CreateDevice(className, id string, initialState any) (Device, error) {
	c, ok := g.classes[className]
	if !ok {
		return Device{}, unknownClass(className)
	}
	if id == "" {
		return Device{}, oops.In("game").Code(CodeUnknownDevice).Errorf("device id must not be empty")
	}

	state := c.Default()
	if initialState != nil {
		copied, err := schema.Normalize(initialState)
		if err != nil {
			return Device{}, invalidState(className, err)
		}
		if err := c.Validate(copied); err != nil {
			return Device{}, err
		}
		state = copied
	}

	d := &device{id: id, class: c, state: state}
	g.devices[id] = d
	g.logger.Debug("device created", "device", id, "class", className)
	return d.snapshot(), nil
}

// LinkDeviceType maps a device type tag to a registered class.
func (g *Game) LinkDeviceType(className, tag string) error {
	if _, ok := g.classes[className]; !ok {
		return unknownClass(className)
	}
	g.links[tag] = className
	g.logger.Debug("device type linked", "tag", tag, "class", className)
	return nil
}

// AddDevice creates device id with the class linked to tag.
func (g *Game) AddDevice(tag, id string) (Device, error) {
	className, ok := g.links[tag]
	if !ok {
		return Device{}, unlinkedTag(tag)
	}
	return g.CreateDevice(className, id, nil)
}

// UpdateDeviceState replaces the state of device id, which must belong to
// className. A copy of newState is stored and announced to state change
// listeners.
func (g *Game) UpdateDeviceState(className, id string, newState any) error {
	d, ok := g.devices[id]
	if !ok || d.class.name != className {
		return unknownDevice(id, className)
	}
	copied, err := schema.Normalize(newState)
	if err != nil {
		return invalidState(className, err)
	}
	if err := d.class.Validate(copied); err != nil {
		return err
	}
	d.state = copied
	g.emitChange(d)
	return nil
}

func (g *Game) emitChange(d *device) {
	state, _ := schema.Normalize(d.state)
	if err := g.changes.Emit(stateChanged, StateChange{ID: d.id, State: state}); err != nil {
		g.report(oops.In("game").With("device", d.id).Wrapf(err, "state change listener"))
	}
}

// ResolveDevice returns device id, creating it from tag when it does not
// exist yet.
func (g *Game) ResolveDevice(id, tag string) (Device, error) {
	if d, ok := g.devices[id]; ok {
		return d.snapshot(), nil
	}
	return g.AddDevice(tag, id)
}

// ReceiveEvent dispatches ev to the handlers of the source device's class.
// Failures are logged and passed to the error sink, never returned.
func (g *Game) ReceiveEvent(ev Event) {
	d, err := g.ResolveDevice(ev.Source.ID, ev.Source.Tag)
	if err != nil {
		g.report(oops.In("game").With("device", ev.Source.ID).With("event", ev.Name).Wrapf(err, "resolve event source"))
		return
	}
	if !d.Class.HasEvent(ev.Name) {
		g.logger.Debug("event not declared by class", "device", d.ID, "class", d.Class.name, "event", ev.Name)
		return
	}
	data, err := schema.Normalize(ev.Data)
	if err != nil {
		g.report(oops.In("game").With("device", d.ID).With("event", ev.Name).Wrapf(err, "event data"))
		return
	}

	err = d.Class.dispatch(ev.Name, EventContext{SourceID: d.ID, Data: data, State: d.State})
	if err != nil {
		g.report(oops.In("game").
			Code(CodeHandlerFailed).
			With("device", d.ID).
			With("class", d.Class.name).
			With("event", ev.Name).
			Errorf("%s handler failed: %v", ev.Name, err))
	}
}

func (g *Game) report(err error) {
	errutil.LogError(g.logger, "game error", err)
	if g.onError != nil {
		g.onError(err)
	}
}

// GetDeviceClass returns the class registered under name.
func (g *Game) GetDeviceClass(name string) (*DeviceClass, bool) {
	c, ok := g.classes[name]
	return c, ok
}

// DeviceClasses returns the registered class names, sorted.
func (g *Game) DeviceClasses() []string {
	names := make([]string, 0, len(g.classes))
	for n := range g.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetDevice returns a snapshot of device id.
func (g *Game) GetDevice(id string) (Device, bool) {
	d, ok := g.devices[id]
	if !ok {
		return Device{}, false
	}
	return d.snapshot(), true
}

// GetDevicesByClass returns snapshots of the devices of class name, by id.
func (g *Game) GetDevicesByClass(name string) []Device {
	var out []Device
	for _, id := range g.sortedDeviceIDs() {
		if d := g.devices[id]; d.class.name == name {
			out = append(out, d.snapshot())
		}
	}
	return out
}

// Devices returns snapshots of all devices, by id.
func (g *Game) Devices() []Device {
	out := make([]Device, 0, len(g.devices))
	for _, id := range g.sortedDeviceIDs() {
		out = append(out, g.devices[id].snapshot())
	}
	return out
}

// Links returns a copy of the tag to class table.
func (g *Game) Links() map[string]string {
	return maps.Clone(g.links)
}

func (g *Game) sortedDeviceIDs() []string {
	ids := make([]string, 0, len(g.devices))
	for id := range g.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dump snapshots devices and links.
func (g *Game) Dump() protocol.GameData {
	data := protocol.GameData{
		Devices: make([]protocol.DeviceState, 0, len(g.devices)),
		Links:   g.Links(),
	}
	for _, d := range g.Devices() {
		data.Devices = append(data.Devices, protocol.DeviceState{ID: d.ID, State: d.State, DeviceClass: d.Class.name})
	}
	return data
}

// Load restores links, then devices, from a snapshot. Entries that fail are
// skipped and their errors returned together.
func (g *Game) Load(data protocol.GameData) error {
	var errs []error
	tags := make([]string, 0, len(data.Links))
	for tag := range data.Links {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if err := g.LinkDeviceType(data.Links[tag], tag); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range data.Devices {
		if _, err := g.CreateDevice(d.DeviceClass, d.ID, d.State); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return oops.In("game").With("failed", len(errs)).Wrapf(errors.Join(errs...), "load game data")
	}
	return nil
}
