package choropleth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotReady is returned by a Controller whose assets have not been bound.
var ErrNotReady = errors.New("assets not loaded")

// ControllerState is the switch state machine position.
type ControllerState int

const (
	// Loading means no entities are bound yet; every switch is refused.
	Loading ControllerState = iota
	// Idle means no switch is in progress.
	Idle
	// Switching means a switch has been recorded and the view is being rebuilt.
	Switching
)

func (s ControllerState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Idle:
		return "idle"
	case Switching:
		return "switching"
	}
	return fmt.Sprintf("ControllerState(%d)", int(s))
}

// View is everything the rendering boundary needs for one expressed
// attribute. A View is never modified after it is returned.
type View struct {
	State
	Scale  *Scale
	Ranked []*Entity
	Fills  []string // indexed like Entities.All
	Title  string
}

// Fill returns the fill color of the i-th entity.
func (v *View) Fill(i int) string {
	if i < 0 || i >= len(v.Fills) {
		return v.Scale.Fallback()
	}
	return v.Fills[i]
}

// Renderer is signalled with every new view.
type Renderer interface {
	Render(v *View) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(v *View) error

// Render calls f(v).
func (f RendererFunc) Render(v *View) error { return f(v) }

// ChartTitle is the default bar chart title for an attribute.
func ChartTitle(attr string) string {
	return "Highest and Lowest Population Change Percentage in MN Counties Between " + attr
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRankSize sets how many entities are taken from each end of the ranking.
func WithRankSize(n int) ControllerOption {
	return func(c *Controller) {
		c.rankSize = n
	}
}

// WithRenderer adds a renderer signalled after each switch.
func WithRenderer(r Renderer) ControllerOption {
	return func(c *Controller) {
		c.renderers = append(c.renderers, r)
	}
}

// WithTitle replaces ChartTitle.
func WithTitle(fn func(attr string) string) ControllerOption {
	return func(c *Controller) {
		c.title = fn
	}
}

// WithControllerLogger sets the logger for switch events.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.log = l
	}
}

// Controller owns the expressed attribute and rebuilds the scale and the
// ranked subset whenever it changes. Switches are serialized, so the most
// recent call always determines the current view.
type Controller struct {
	mu        sync.Mutex
	reg       *Registry
	ents      *Entities
	build     ScaleBuilder
	rankSize  int
	renderers []Renderer
	title     func(string) string
	log       *slog.Logger

	state   ControllerState
	current State
	view    *View
	err     error
}

// NewController returns a controller. With nil reg or ents it starts in
// the Loading state until Bind is called.
func NewController(reg *Registry, ents *Entities, build ScaleBuilder, opts ...ControllerOption) *Controller {
	c := &Controller{
		build:    build,
		rankSize: DefaultRankSize,
		title:    ChartTitle,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if build == nil {
		c.build = FixedScale(DefaultBreakpoints, DefaultColors)
	}
	if reg != nil && ents != nil {
		c.reg, c.ents, c.state = reg, ents, Idle
	}
	return c
}

// Bind attaches loaded assets and moves a Loading controller to Idle.
// Binding again replaces the assets and clears the current view.
func (c *Controller) Bind(reg *Registry, ents *Entities) error {
	if reg == nil || ents == nil {
		return errors.New("bind: nil registry or entities")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reg, c.ents = reg, ents
	c.state = Idle
	c.current = State{}
	c.view, c.err = nil, nil
	return nil
}

// State returns the state machine position.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the recorded expressed attribute.
func (c *Controller) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// View returns the view of the last switch, or the error it failed with.
func (c *Controller) View() (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Loading {
		return nil, ErrNotReady
	}
	if c.view == nil && c.err == nil {
		return nil, errors.New("no attribute selected")
	}
	return c.view, c.err
}

// Select makes attr the expressed attribute.
//
// The new state is recorded before the scale is built; if classification,
// ranking or a renderer fails, the error is returned and the state is not
// rolled back.
func (c *Controller) Select(attr string) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectLocked(attr)
}

// Step moves the expressed attribute by delta positions in registry order,
// wrapping at both ends. With nothing selected yet it steps from the first
// attribute.
func (c *Controller) Step(delta int) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Loading {
		return nil, ErrNotReady
	}
	from := c.current.Expressed
	if from == "" {
		from = c.reg.At(0)
	}
	next, err := c.reg.Step(from, delta)
	if err != nil {
		return nil, err
	}
	return c.selectLocked(next)
}

func (c *Controller) selectLocked(attr string) (*View, error) {
	if c.state == Loading {
		return nil, ErrNotReady
	}
	if !c.reg.Contains(attr) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}

	c.state = Switching
	defer func() { c.state = Idle }()
	c.current = State{Expressed: attr}
	c.view, c.err = nil, nil

	scale, err := c.build(attr, c.ents)
	if err != nil {
		c.err = fmt.Errorf("classifying %q: %w", attr, err)
		return nil, c.err
	}

	all := c.ents.All()
	fills := make([]string, len(all))
	for i, e := range all {
		fills[i] = scale.Classify(e.Value(attr))
	}
	v := &View{
		State:  c.current,
		Scale:  scale,
		Ranked: TopAndBottom(all, attr, c.rankSize),
		Fills:  fills,
		Title:  c.title(attr),
	}
	c.view = v

	for _, r := range c.renderers {
		if err := r.Render(v); err != nil {
			c.err = fmt.Errorf("rendering %q: %w", attr, err)
			return v, c.err
		}
	}
	c.log.Debug("attribute_switched", "attribute", attr, "ranked", len(v.Ranked))
	return v, nil
}
