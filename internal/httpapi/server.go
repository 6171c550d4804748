package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	readHeaderTimeoutConstant      = 10 * time.Second
	shutdownTimeoutConstant        = 5 * time.Second
	serverListeningMessageConstant = "http api listening"
	serverStoppedMessageConstant   = "http api stopped"
	logFieldAddressConstant        = "address"
)

// Serve runs the HTTP API on listener until executionContext is cancelled,
// then shuts down gracefully.
func Serve(executionContext context.Context, listener net.Listener, backend AuditBackend, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Handler:           NewHandler(backend, logger),
		ReadHeaderTimeout: readHeaderTimeoutConstant,
		BaseContext:       func(net.Listener) context.Context { return executionContext },
	}

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- server.Serve(listener)
	}()
	logger.Info(serverListeningMessageConstant, zap.String(logFieldAddressConstant, listener.Addr().String()))

	select {
	case serveError := <-serveErrors:
		return serveError
	case <-executionContext.Done():
	}

	shutdownContext, cancel := context.WithTimeout(context.WithoutCancel(executionContext), shutdownTimeoutConstant)
	defer cancel()
	shutdownError := server.Shutdown(shutdownContext)
	if serveError := <-serveErrors; serveError != nil && !errors.Is(serveError, http.ErrServerClosed) {
		return serveError
	}
	logger.Info(serverStoppedMessageConstant)
	return shutdownError
}

// ListenAndServe listens on address and calls Serve.
func ListenAndServe(executionContext context.Context, address string, backend AuditBackend, logger *zap.Logger) error {
	listener, listenError := net.Listen("tcp", address)
	if listenError != nil {
		return listenError
	}
	return Serve(executionContext, listener, backend, logger)
}
