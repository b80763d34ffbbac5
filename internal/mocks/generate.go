// Package mocks provides gomock implementations of the ports used by the canvas bridge services.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	surface := mocks.NewMockSurface(ctrl)
//	surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Generate mock for the Surface interface from internal/ports.
// This creates MockSurface with methods Load, Reload, InjectJavaScript.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=surface_mock.go github.com/target/canvas-bridge/internal/ports Surface

// Generate mock for the CredentialStore interface from internal/ports.
// This creates MockCredentialStore with methods Get, Set, Delete.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=credential_store_mock.go github.com/target/canvas-bridge/internal/ports CredentialStore
