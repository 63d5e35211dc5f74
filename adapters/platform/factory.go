package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
	"github.com/satriahrh/scribe/internal/auth"
)

// Factory dials one bridge connection per session
type Factory struct {
	endpoint string
	signer   *auth.Signer
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

var _ repositories.PlatformFactory = &Factory{}

// NewFactory creates a bridge factory for the sidecar at endpoint (ws:// or wss://)
func NewFactory(endpoint string, signer *auth.Signer, logger *zap.Logger) *Factory {
	return &Factory{
		endpoint: endpoint,
		signer:   signer,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}
}

// Open implements repositories.PlatformFactory
func (f *Factory) Open(ctx context.Context, invite *entities.Invite) (repositories.MeetingPlatform, error) {
	switch invite.Platform {
	case entities.PlatformChime, entities.PlatformWebex, entities.PlatformZoom:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedPlatform, invite.Platform)
	}

	token, err := f.signer.GenerateScribeToken(invite.ID, invite.Platform)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge url: %w", err)
	}
	q := u.Query()
	q.Set("invite_id", invite.ID)
	q.Set("platform", string(invite.Platform))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := f.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial bridge (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial bridge: %w", err)
	}

	logger := f.logger.With(zap.String("inviteID", invite.ID), zap.String("platform", string(invite.Platform)))
	logger.Info("Bridge connected")
	return newBridge(conn, logger), nil
}
