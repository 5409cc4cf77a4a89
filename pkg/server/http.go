/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 */

package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// TLS handshake + HTTP headers (Slowloris protection)
	defaultReadHeaderTimeout = 3 * time.Second

	// Batch bodies can be large.
	defaultReadTimeout = 30 * time.Second

	defaultIdleTimeout    = 60 * time.Second
	defaultMaxHeaderBytes = 8192
)

// ServeHTTP serves the API on l until the server is closed. It returns
// ErrServerClosed after Close.
func (s *Server) ServeHTTP(l net.Listener) error {
	defer l.Close()

	if s.opts.HttpHandler == nil {
		return errMissingHTTPHandler
	}

	idleTimeout := s.opts.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = defaultIdleTimeout
	}

	if s.opts.ProxyProtocol {
		l = wrapProxyProto(l)
	}

	hs := &http.Server{
		Handler:           s.opts.HttpHandler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}
	if ok := s.trackCloser(hs, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(hs, false)

	s.opts.Logger.Info("http api server started", zap.Stringer("addr", l.Addr()), zap.Bool("proxy_protocol", s.opts.ProxyProtocol))
	err := hs.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}
