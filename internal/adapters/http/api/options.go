package api

import "github.com/okian/happenin/pkg/logger"

const (
	defaultQRSize = 256
	maxBodyBytes  = 1 << 20
)

type settings struct {
	auth   Authenticator
	logger logger.Logger
	qrSize int
}

// Option configures the Server.
type Option func(*settings)

// WithAuthenticator replaces the header-based identity resolver.
func WithAuthenticator(a Authenticator) Option {
	return func(s *settings) {
		if a != nil {
			s.auth = a
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultQRSize sets the QR image size used when the request does not
// name one.
func WithDefaultQRSize(px int) Option {
	return func(s *settings) {
		if px > 0 {
			s.qrSize = px
		}
	}
}
