// Package source reads requirement documents from disk or the web and
// extracts their plain text
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/reqflow/internal/cache"
	"github.com/ppiankov/reqflow/internal/model"
)

// Source resolves a document to its extracted text. Every failure wraps
// model.ErrDocumentUnreadable.
type Source struct {
	fetcher  *Fetcher
	registry *Registry
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// Option configures a Source
type Option func(*Source)

// WithCache caches extracted text by content hash
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Source) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry replaces the built-in extractors
func WithRegistry(r *Registry) Option { return func(s *Source) { s.registry = r } }

// New creates a Source. fetcher may be nil, in which case URLs are rejected.
func New(fetcher *Fetcher, opts ...Option) *Source {
	s := &Source{
		fetcher:  fetcher,
		registry: NewRegistry(),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Extracted is the text of a document and the format it was read as
type Extracted struct {
	Format Format `json:"format"`
	Text   string `json:"text"`
}

// Text returns the extracted text of doc. Empty text is an error.
func (s *Source) Text(ctx context.Context, doc model.Document) (string, error) {
	ex, err := s.Extract(ctx, doc)
	if err != nil {
		return "", err
	}
	return ex.Text, nil
}

// Extract reads and extracts doc
func (s *Source) Extract(ctx context.Context, doc model.Document) (Extracted, error) {
	data, contentType, err := s.read(ctx, doc.Location)
	if err != nil {
		return Extracted{}, unreadable(doc, err)
	}

	key := cache.ContentKey(cache.NamespaceText, data)
	var ex Extracted
	if cache.GetJSON(s.cache, key, &ex) {
		s.logger.Debug("extracted text cache hit", zap.String("document", doc.ID))
		return ex, nil
	}

	format := DetectFormat(doc.Location, contentType, data)

	text, err := s.registry.Extract(format, data)
	if err != nil {
		return Extracted{}, unreadable(doc, err)
	}
	if strings.TrimSpace(text) == "" {
		return Extracted{}, unreadable(doc, errors.New("no text content"))
	}

	ex = Extracted{Format: format, Text: text}
	if err := cache.SetJSON(s.cache, key, ex, s.cacheTTL); err != nil {
		s.logger.Warn("cache extracted text", zap.String("document", doc.ID), zap.Error(err))
	}
	s.logger.Debug("extracted text",
		zap.String("document", doc.ID),
		zap.String("format", string(format)),
		zap.Int("chars", len(text)))
	return ex, nil
}

func (s *Source) read(ctx context.Context, location string) ([]byte, string, error) {
	if location == "" {
		return nil, "", errors.New("no location")
	}
	if IsRemote(location) {
		if s.fetcher == nil {
			return nil, "", errors.New("remote documents are disabled")
		}
		res, err := s.fetcher.FetchWithRetry(ctx, location)
		if err != nil {
			return nil, "", err
		}
		if res.Truncated {
			s.logger.Warn("document body truncated", zap.String("url", location), zap.Int("bytes", len(res.Body)))
		}
		return res.Body, res.ContentType, nil
	}

	data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
	if err != nil {
		return nil, "", err
	}
	return data, "", nil
}

func unreadable(doc model.Document, err error) error {
	return fmt.Errorf("document %s: %w: %w", doc.ID, model.ErrDocumentUnreadable, err)
}
