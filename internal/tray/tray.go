// Package tray provides the operator menu-bar icon: camera toggle, last
// recognized sign and quit.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(open bool) bool
	onOpenUI func()
	onQuit   func()
	active   bool
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuCamera      *systray.MenuItem
	menuLastGesture *systray.MenuItem
}

// New creates a new Tray with the camera shown as closed.
func New() *Tray {
	return &Tray{}
}

// OnToggleCamera sets the callback run when the camera item is clicked. It
// receives the requested state and returns whether the camera is now active.
func (t *Tray) OnToggleCamera(fn func(open bool) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpenUI sets the callback for the "Open in browser" item.
func (t *Tray) OnOpenUI(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenUI = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Senas")
	systray.SetTooltip("Senas sign recognition")

	t.mu.Lock()
	t.menuCamera = systray.AddMenuItem(cameraTitle(t.active), "Open or close the camera")
	systray.AddSeparator()

	t.menuLastGesture = systray.AddMenuItem(gestureTitle(""), "Last recognized sign")
	t.menuLastGesture.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuUI := systray.AddMenuItem("Open in browser...", "Open the web client")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Senas")

	go func() {
		for {
			select {
			case <-t.menuCamera.ClickedCh:
				t.handleToggle()
			case <-menuUI.ClickedCh:
				t.handleOpenUI()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.RLock()
	want := !t.active
	callback := t.onToggle
	t.mu.RUnlock()

	// Call the callback outside the lock; opening the camera can take seconds.
	active := want
	if callback != nil {
		active = callback(want)
	}
	t.SetCameraActive(active)
}

func (t *Tray) handleOpenUI() {
	t.mu.RLock()
	callback := t.onOpenUI
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetCameraActive updates the camera item. The idle watchdog can close the
// camera behind the menu's back, so callers refresh this periodically.
func (t *Tray) SetCameraActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = active
	if t.menuCamera != nil {
		t.menuCamera.SetTitle(cameraTitle(active))
	}
}

// SetLastGesture updates the last gesture display in the menu.
func (t *Tray) SetLastGesture(label string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastGesture != nil {
		t.menuLastGesture.SetTitle(gestureTitle(label))
	}
}

// CameraActive returns the state the menu currently shows.
func (t *Tray) CameraActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func cameraTitle(active bool) string {
	if active {
		return "● Camera on"
	}
	return "○ Camera off"
}

func gestureTitle(label string) string {
	if label == "" {
		return "Last: none"
	}
	return "Last: " + label
}
