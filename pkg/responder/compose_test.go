package responder

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/koanbot/koanbot/pkg/bsky"
)

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600)) }

func TestComposePlainReply(t *testing.T) {
	anchor := bsky.ReplyRef{
		Root:   bsky.StrongRef{URI: "at://root", CID: "cid-root"},
		Parent: bsky.StrongRef{URI: "at://m1", CID: "cid-m1"},
	}
	post := Composer{Now: fixedNow, Langs: []string{"en"}}.Compose(context.Background(), "A finger points at the moon.", anchor)

	want := bsky.PostRecord{
		Type:      bsky.TypePost,
		Text:      "A finger points at the moon.",
		CreatedAt: "2024-05-01T10:30:00Z",
		Reply:     &anchor,
		Langs:     []string{"en"},
	}
	if diff := cmp.Diff(want, post); diff != "" {
		t.Fatalf("post mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeAddsAnnotations(t *testing.T) {
	facets := []bsky.Facet{{
		Index:    bsky.ByteSlice{ByteStart: 0, ByteEnd: 4},
		Features: []bsky.FacetFeature{{Type: bsky.FeatureTag, Tag: "zen"}},
	}}
	annotator := fakeAnnotator{facets: facets}
	post := Composer{Now: fixedNow, Annotator: annotator}.Compose(context.Background(), "#zen", bsky.ReplyRef{})

	if diff := cmp.Diff(facets, post.Facets); diff != "" {
		t.Fatalf("facets mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeFallsBackToPlainText(t *testing.T) {
	annotator := fakeAnnotator{
		facets: []bsky.Facet{{}},
		embed:  &bsky.Embed{Type: bsky.TypeEmbedExt},
		err:    errBoom,
	}
	post := Composer{Now: fixedNow, Annotator: annotator}.Compose(context.Background(), "see https://example.com", bsky.ReplyRef{})
	if post.Facets != nil || post.Embed != nil {
		t.Fatalf("expected plain text after annotation failure, got %+v", post)
	}
	if post.Text != "see https://example.com" {
		t.Fatalf("unexpected text %q", post.Text)
	}
}
