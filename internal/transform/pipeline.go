// Package transform applies the reversible content transforms (link
// rewriting and encryption) between the local tree and a backend.
package transform

import (
	"context"
	"log/slog"

	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/utils"
)

// Pipeline is built once per pass from the current settings.
type Pipeline struct {
	cipher       *Cipher
	rewriteLinks bool
}

func NewPipeline(s *config.Settings) (*Pipeline, error) {
	p := &Pipeline{rewriteLinks: s.RewriteLinks}
	if s.Encryption.Enabled {
		c, err := NewCipher(s.Encryption.Key)
		if err != nil {
			return nil, err
		}
		p.cipher = c
	}
	return p, nil
}

func (p *Pipeline) Encrypting() bool { return p.cipher != nil }

// Encode turns local file content into what gets stored remotely.
func (p *Pipeline) Encode(relPath string, content []byte) ([]byte, error) {
	if p.cipher != nil && p.cipher.IsEncrypted(content) {
		// already ciphertext under this key, store as-is
		return content, nil
	}
	if p.rewriteLinks && utils.IsMarkdown(relPath) {
		content = ToStandardLinks(content)
	}
	if p.cipher == nil {
		return content, nil
	}
	return p.cipher.Encrypt(content)
}

// Decode turns stored content back into local file content. Content that does
// not decrypt is passed through unchanged.
func (p *Pipeline) Decode(relPath string, content []byte) []byte {
	if p.cipher != nil {
		plain, err := p.cipher.Decrypt(content)
		if err != nil {
			slog.Warn("content not decryptable, keeping raw bytes", "path", relPath)
		} else {
			content = plain
		}
	}
	if p.rewriteLinks && utils.IsMarkdown(relPath) {
		content = ToWikiLinks(content)
	}
	return content
}

// Upload encodes and stores content at remotePath.
func (p *Pipeline) Upload(ctx context.Context, prov provider.Provider, remotePath string, content []byte) (*provider.Entry, error) {
	encoded, err := p.Encode(remotePath, content)
	if err != nil {
		return nil, err
	}
	return provider.Upload(ctx, prov, remotePath, encoded)
}

// Download fetches and decodes the object at remotePath.
func (p *Pipeline) Download(ctx context.Context, prov provider.Provider, remotePath string) ([]byte, error) {
	raw, err := provider.Download(ctx, prov, remotePath)
	if err != nil {
		return nil, err
	}
	return p.Decode(remotePath, raw), nil
}
