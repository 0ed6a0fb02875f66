package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/mrsinham/dicomhang/cmd/dicomhang/browser"
	"github.com/mrsinham/dicomhang/internal/engine"
)

// consoleLayout renders layout updates as a text grid. It implements
// engine.LayoutManager and keeps the latest update so async prior
// matches can be re-printed.
type consoleLayout struct {
	mu     sync.Mutex
	out    io.Writer
	update engine.LayoutUpdate
}

func newConsoleLayout(out io.Writer) *consoleLayout {
	return &consoleLayout{out: out}
}

func (c *consoleLayout) UpdateViewports(update engine.LayoutUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.update = update
}

func (c *consoleLayout) RerenderViewport(index int, data engine.ViewportData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < len(c.update.ViewportData) {
		c.update.ViewportData[index] = data
	}
}

// Print writes the current stage grid.
func (c *consoleLayout) Print() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, browser.RenderLayout(c.update))
}
