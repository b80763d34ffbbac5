package ports

import "context"

// Surface is the sandboxed embedded document hosting the canvas editor.
// The host can navigate it, reload it and inject scripts into its execution context;
// messages flow back through the inbound router.
type Surface interface {
	// Load navigates the surface to url, registering bootstrap to run on every page load.
	Load(ctx context.Context, url string, bootstrap string) error

	// Reload reloads the current document.
	Reload(ctx context.Context) error

	// InjectJavaScript evaluates script in the current document.
	// It fails when the document is not in a state to receive scripts.
	InjectJavaScript(ctx context.Context, script string) error
}
