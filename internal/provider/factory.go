package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/JunerLee/new-tab/internal/config"
	"github.com/JunerLee/new-tab/internal/engine"
	"github.com/JunerLee/new-tab/internal/webdav"
)

// The WebDAV client is the primary Transport implementation.
var _ Transport = (*webdav.Client)(nil)

// NewFromConfig creates a Provider implementation based on the provider config type.
// Sealed credentials are revealed before they reach the transport.
func NewFromConfig(ctx context.Context, cfg config.ProviderConfig, sealer *config.Sealer, clock engine.Clock, logger engine.Logger) (engine.Provider, error) {
	switch cfg.Type {
	case "webdav":
		password, err := reveal(sealer, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("revealing password: %w", err)
		}
		token, err := reveal(sealer, cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("revealing token: %w", err)
		}
		client, err := webdav.NewClient(webdav.Config{
			BaseURL:    cfg.URL,
			Username:   cfg.Username,
			Password:   password,
			Token:      token,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		return NewRemoteProvider(cfg.Name, client, cfg.Folder, cfg.Compress, clock, logger), nil
	case "local":
		return NewLocalProvider(cfg.Name, cfg.Dir, cfg.Compress, clock, logger)
	case "s3":
		secret, err := reveal(sealer, cfg.S3SecretAccessKey)
		if err != nil {
			return nil, fmt.Errorf("revealing secret access key: %w", err)
		}
		return NewS3Provider(ctx, S3Config{
			Name:            cfg.Name,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: secret,
			UsePathStyle:    cfg.S3PathStyle,
			Compress:        cfg.Compress,
		}, clock, logger)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

func reveal(sealer *config.Sealer, value string) (string, error) {
	if sealer == nil {
		return value, nil
	}
	return sealer.Reveal(value)
}
