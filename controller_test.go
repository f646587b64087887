package choropleth

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func fixtureController(t *testing.T, opts ...ControllerOption) *Controller {
	t.Helper()
	ents, _ := joinFixture(t)
	reg, err := NewRegistry(DefaultAttributes...)
	if err != nil {
		t.Fatal(err)
	}
	return NewController(reg, ents, nil, opts...)
}

func TestController_Loading(t *testing.T) {
	c := NewController(nil, nil, nil)
	if c.State() != Loading {
		t.Fatalf("State() = %v, want loading", c.State())
	}
	if _, err := c.Select("1970 - 1980"); !errors.Is(err, ErrNotReady) {
		t.Errorf("Select() error = %v, want ErrNotReady", err)
	}
	if _, err := c.Step(1); !errors.Is(err, ErrNotReady) {
		t.Errorf("Step() error = %v, want ErrNotReady", err)
	}
	if _, err := c.View(); !errors.Is(err, ErrNotReady) {
		t.Errorf("View() error = %v, want ErrNotReady", err)
	}

	ents, _ := joinFixture(t)
	reg, _ := NewRegistry(DefaultAttributes...)
	if err := c.Bind(reg, ents); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if c.State() != Idle {
		t.Errorf("State() after Bind = %v, want idle", c.State())
	}
	if _, err := c.View(); err == nil {
		t.Error("View() before any selection should fail")
	}
	if err := c.Bind(nil, ents); err == nil {
		t.Error("Bind(nil) error = nil")
	}
}

func TestController_Select(t *testing.T) {
	c := fixtureController(t, WithRankSize(3))
	v, err := c.Select("1970 - 1980")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if v.Expressed != "1970 - 1980" {
		t.Errorf("Expressed = %q", v.Expressed)
	}
	if v.Title != ChartTitle("1970 - 1980") {
		t.Errorf("Title = %q", v.Title)
	}
	if got := keysOf(v.Ranked); len(got) != 6 || got[0] != "Brown" || got[5] != "Anoka" {
		t.Errorf("Ranked = %v", got)
	}
	if v.Fill(0) != DefaultColors[6] {
		t.Errorf("Fill(Aitkin) = %q, want %q", v.Fill(0), DefaultColors[6])
	}
	if v.Fill(999) != FallbackColor {
		t.Errorf("Fill out of range = %q, want fallback", v.Fill(999))
	}
	if c.State() != Idle {
		t.Errorf("State() = %v, want idle", c.State())
	}

	got, err := c.View()
	if err != nil || got != v {
		t.Errorf("View() = %p, %v; want %p", got, err, v)
	}
}

func TestController_SelectUnknown(t *testing.T) {
	c := fixtureController(t)
	if _, err := c.Select("1970 - 1980"); err != nil {
		t.Fatal(err)
	}
	_, err := c.Select("1960 - 1970")
	if !errors.Is(err, ErrUnknownAttribute) {
		t.Fatalf("Select() error = %v, want ErrUnknownAttribute", err)
	}
	if got := c.Current().Expressed; got != "1970 - 1980" {
		t.Errorf("unknown attribute changed state to %q", got)
	}
}

func TestController_Step(t *testing.T) {
	c := fixtureController(t)
	tests := []struct {
		delta int
		want  string
	}{
		{-1, "2010 - 2020"}, // nothing selected: step from the first
		{1, "1970 - 1980"},
		{2, "1990 - 2000"},
		{-3, "2010 - 2020"},
		{6, "1970 - 1980"},
	}
	for _, tt := range tests {
		v, err := c.Step(tt.delta)
		if err != nil {
			t.Fatalf("Step(%d) error = %v", tt.delta, err)
		}
		if v.Expressed != tt.want {
			t.Errorf("Step(%d) = %q, want %q", tt.delta, v.Expressed, tt.want)
		}
	}
}

func TestController_RepeatedSwitchIsIdempotent(t *testing.T) {
	c := fixtureController(t)
	a, err := c.Select("2000 - 2010")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Select("2000 - 2010")
	if err != nil {
		t.Fatal(err)
	}
	if keysOf(a.Ranked)[0] != keysOf(b.Ranked)[0] || len(a.Fills) != len(b.Fills) {
		t.Fatal("views differ")
	}
	for i := range a.Fills {
		if a.Fills[i] != b.Fills[i] {
			t.Errorf("Fills[%d] = %q then %q", i, a.Fills[i], b.Fills[i])
		}
	}
}

func TestController_BuildFailureKeepsState(t *testing.T) {
	ents, _ := joinFixture(t)
	reg, _ := NewRegistry(DefaultAttributes...)
	boom := errors.New("boom")
	c := NewController(reg, ents, func(attr string, _ *Entities) (*Scale, error) {
		if attr == "1980 - 1990" {
			return nil, boom
		}
		return NewScale(DefaultBreakpoints, DefaultColors)
	})

	if _, err := c.Select("1970 - 1980"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Select("1980 - 1990"); !errors.Is(err, boom) {
		t.Fatalf("Select() error = %v, want boom", err)
	}
	if got := c.Current().Expressed; got != "1980 - 1990" {
		t.Errorf("Current() = %q, want the failed attribute recorded", got)
	}
	if v, err := c.View(); v != nil || !errors.Is(err, boom) {
		t.Errorf("View() = %v, %v; want nil, boom", v, err)
	}
	if c.State() != Idle {
		t.Errorf("State() = %v, want idle", c.State())
	}
}

func TestController_Renderers(t *testing.T) {
	var seen []string
	var states []ControllerState
	var c *Controller
	record := RendererFunc(func(v *View) error {
		seen = append(seen, v.Expressed)
		states = append(states, c.state)
		return nil
	})
	fail := RendererFunc(func(v *View) error {
		if v.Expressed == "2010 - 2020" {
			return fmt.Errorf("disk full")
		}
		return nil
	})
	c = fixtureController(t, WithRenderer(record), WithRenderer(fail),
		WithTitle(func(a string) string { return "T " + a }))

	v, err := c.Select("1990 - 2000")
	if err != nil {
		t.Fatal(err)
	}
	if v.Title != "T 1990 - 2000" {
		t.Errorf("Title = %q", v.Title)
	}
	v, err = c.Select("2010 - 2020")
	if err == nil {
		t.Fatal("renderer error not returned")
	}
	if v == nil || v.Expressed != "2010 - 2020" {
		t.Errorf("view should still be returned on renderer failure, got %v", v)
	}
	if want := []string{"1990 - 2000", "2010 - 2020"}; len(seen) != 2 || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("renderer saw %v, want %v", seen, want)
	}
	for i, s := range states {
		if s != Switching {
			t.Errorf("render %d ran in state %v, want switching", i, s)
		}
	}
}

func TestController_Concurrent(t *testing.T) {
	c := fixtureController(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				c.Step(1)
			} else {
				c.Select(DefaultAttributes[i%len(DefaultAttributes)])
			}
			c.View()
		}()
	}
	wg.Wait()

	v, err := c.View()
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if v.Expressed != c.Current().Expressed {
		t.Errorf("view %q does not match current %q", v.Expressed, c.Current().Expressed)
	}
}

func TestControllerState_String(t *testing.T) {
	if Switching.String() != "switching" || ControllerState(9).String() != "ControllerState(9)" {
		t.Error("unexpected state names")
	}
}
