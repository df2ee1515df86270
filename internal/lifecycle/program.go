package lifecycle

import "github.com/misterbo94/Bela/internal/exchange"

// Program is the user code driven by the controller. Setup runs once with a
// context that carries no buffers, Render runs once per period while Running
// and Cleanup runs once after the loop has exited, only if Setup succeeded.
type Program interface {
	Setup(ctx *exchange.RenderContext, userData any) bool
	Render(ctx *exchange.RenderContext, userData any)
	Cleanup(ctx *exchange.RenderContext, userData any)
}

// Funcs adapts plain functions to Program. Nil fields are skipped; a nil
// SetupFunc counts as success.
type Funcs struct {
	SetupFunc   func(ctx *exchange.RenderContext, userData any) bool
	RenderFunc  func(ctx *exchange.RenderContext, userData any)
	CleanupFunc func(ctx *exchange.RenderContext, userData any)
}

func (f Funcs) Setup(ctx *exchange.RenderContext, userData any) bool {
	if f.SetupFunc == nil {
		return true
	}
	return f.SetupFunc(ctx, userData)
}

func (f Funcs) Render(ctx *exchange.RenderContext, userData any) {
	if f.RenderFunc != nil {
		f.RenderFunc(ctx, userData)
	}
}

func (f Funcs) Cleanup(ctx *exchange.RenderContext, userData any) {
	if f.CleanupFunc != nil {
		f.CleanupFunc(ctx, userData)
	}
}
