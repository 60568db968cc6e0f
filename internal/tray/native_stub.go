//go:build !darwin && !windows

package tray

type stubRenderer struct{}

func newPlatformRenderer() renderer { return stubRenderer{} }

func (stubRenderer) run(Menu, func(int), func()) error { return ErrUnsupported }
func (stubRenderer) render(Menu)                       {}
func (stubRenderer) stop()                             {}
