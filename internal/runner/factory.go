package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
	"github.com/satriahrh/scribe/internal/session"
)

// Factory builds session controllers from the process-wide collaborators
type Factory struct {
	platforms  repositories.PlatformFactory
	recognizer repositories.SpeechRecognizer
	audio      repositories.AudioSource
	invites    repositories.InviteRepository
	deliverer  session.Deliverer
	observer   session.Observer
	config     session.Config
	logger     *zap.Logger
}

var _ SessionFactory = &Factory{}

// FactoryDeps groups the collaborators shared by every session
type FactoryDeps struct {
	Platforms  repositories.PlatformFactory
	Recognizer repositories.SpeechRecognizer
	// Audio overrides the audio carried by the platform connection, if any.
	Audio     repositories.AudioSource
	Invites   repositories.InviteRepository
	Deliverer session.Deliverer
	Observer  session.Observer
}

func NewFactory(deps FactoryDeps, config session.Config, logger *zap.Logger) *Factory {
	return &Factory{
		platforms:  deps.Platforms,
		recognizer: deps.Recognizer,
		audio:      deps.Audio,
		invites:    deps.Invites,
		deliverer:  deps.Deliverer,
		observer:   deps.Observer,
		config:     config,
		logger:     logger,
	}
}

// NewSession opens the platform connection for invite and wires a controller around it
func (f *Factory) NewSession(ctx context.Context, invite *entities.Invite) (Runner, error) {
	platform, err := f.platforms.Open(ctx, invite)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterFailure, err)
	}

	audio := f.audio
	if audio == nil {
		if source, ok := platform.(repositories.AudioSource); ok {
			audio = source
		}
	}
	if audio == nil {
		_ = platform.Leave(ctx)
		return nil, fmt.Errorf("%w: no audio source for %s", domain.ErrAdapterFailure, invite.Platform)
	}

	return session.New(invite, session.Dependencies{
		Platform:   platform,
		Recognizer: f.recognizer,
		Audio:      audio,
		Invites:    f.invites,
		Deliverer:  f.deliverer,
		Observer:   f.observer,
	}, f.config, f.logger), nil
}
