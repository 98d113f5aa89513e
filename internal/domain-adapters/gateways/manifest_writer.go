package gateways

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/gateways"
)

// manifestDomainKey is the ASCII domain name zero-padded to 32 bytes
var manifestDomainKey = [32]byte{
	'p', 'k', 'g', 'a', 'u', 'd', 'i', 't', '.', 'm', 'a', 'n', 'i', 'f', 'e', 's',
	't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ManifestWriter serializes a selection as package.json inside the workspace
type ManifestWriter struct {
	cfg entities.ManifestConfig
}

// NewManifestWriter creates a new manifest writer
func NewManifestWriter(cfg entities.ManifestConfig) *ManifestWriter {
	if cfg.Path == "" {
		cfg.Path = entities.DefaultManifestPath
	}
	if cfg.Name == "" {
		cfg.Name = entities.DefaultManifestName
	}
	if cfg.Version == "" {
		cfg.Version = entities.DefaultManifestVersion
	}
	return &ManifestWriter{cfg: cfg}
}

// Path is the manifest path relative to the workspace
func (w *ManifestWriter) Path() string {
	return w.cfg.Path
}

// Write overwrites the manifest and returns the digest of the written bytes
func (w *ManifestWriter) Write(ctx context.Context, env gateways.Environment, selection entities.DependencySelection) (string, error) {
	data, err := RenderManifest(entities.NewManifest(w.cfg.Name, w.cfg.Version, selection))
	if err != nil {
		return "", err
	}

	if err := env.WriteFile(ctx, w.cfg.Path, data); err != nil {
		return "", err
	}
	return ManifestDigest(data), nil
}

// RenderManifest encodes a manifest the way package managers write it
func RenderManifest(manifest *entities.Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// ManifestDigest is the keyed BLAKE3 digest of rendered manifest bytes
func ManifestDigest(data []byte) string {
	hasher, err := blake3.NewKeyed(manifestDomainKey[:])
	if err != nil {
		panic("gateways: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}
