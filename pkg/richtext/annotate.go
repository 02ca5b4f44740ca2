package richtext

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/koanbot/koanbot/pkg/bsky"
	"github.com/koanbot/koanbot/pkg/linkpreview"
)

// HandleResolver maps a handle to its DID.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

// BlobUploader stores thumbnail bytes.
type BlobUploader interface {
	UploadBlob(ctx context.Context, data []byte, mimeType string) (*bsky.Blob, error)
}

// PreviewFetcher loads link card metadata.
type PreviewFetcher interface {
	Fetch(ctx context.Context, url string) (*linkpreview.Preview, error)
}

const defaultCardTimeout = 10 * time.Second

// Annotator builds facets and an optional link card for reply text.
type Annotator struct {
	Handles HandleResolver
	// Previews and Blobs are only used when LinkCards is set.
	Previews    PreviewFetcher
	Blobs       BlobUploader
	LinkCards   bool
	CardTimeout time.Duration
	Log         zerolog.Logger
}

// Annotate returns the facets of text and, if enabled, an external embed for
// the first link. Unresolvable mentions and failed previews are skipped; an
// error is only returned when ctx is done.
func (a *Annotator) Annotate(ctx context.Context, text string) ([]bsky.Facet, *bsky.Embed, error) {
	spans := Detect(text)
	var (
		facets    []bsky.Facet
		firstLink string
	)
	for _, span := range spans {
		var feature bsky.FacetFeature
		switch span.Kind {
		case KindLink:
			feature = bsky.FacetFeature{Type: bsky.FeatureLink, URI: span.Value}
			if firstLink == "" {
				firstLink = span.Value
			}
		case KindTag:
			feature = bsky.FacetFeature{Type: bsky.FeatureTag, Tag: span.Value}
		case KindMention:
			if a.Handles == nil {
				continue
			}
			did, err := a.Handles.ResolveHandle(ctx, span.Value)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				a.Log.Debug().Err(err).Str("handle", span.Value).Msg("Dropping unresolved mention")
				continue
			}
			feature = bsky.FacetFeature{Type: bsky.FeatureMention, DID: did}
		}
		facets = append(facets, bsky.Facet{
			Index:    bsky.ByteSlice{ByteStart: span.Start, ByteEnd: span.End},
			Features: []bsky.FacetFeature{feature},
		})
	}

	if !a.LinkCards || firstLink == "" || a.Previews == nil {
		return facets, nil, nil
	}
	embed, err := a.linkCard(ctx, firstLink)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		a.Log.Warn().Err(err).Str("url", firstLink).Msg("Skipping link card")
		return facets, nil, nil
	}
	return facets, embed, nil
}

func (a *Annotator) linkCard(ctx context.Context, link string) (*bsky.Embed, error) {
	timeout := a.CardTimeout
	if timeout <= 0 {
		timeout = defaultCardTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	preview, err := a.Previews.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	external := &bsky.External{
		URI:         link,
		Title:       preview.Title,
		Description: preview.Description,
	}
	if len(preview.Image) > 0 && a.Blobs != nil {
		blob, err := a.Blobs.UploadBlob(ctx, preview.Image, preview.ImageMIME)
		if err != nil {
			a.Log.Warn().Err(err).Str("url", link).Msg("Failed to upload link card thumbnail")
		} else {
			external.Thumb = blob
		}
	}
	return &bsky.Embed{Type: bsky.TypeEmbedExt, External: external}, nil
}
