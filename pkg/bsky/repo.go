package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// FetchThread returns the post at uri. Only the anchor post is decoded;
// depth is passed through so callers can keep the lookup shallow.
func (c *Client) FetchThread(ctx context.Context, uri string, depth int) (*ThreadPost, error) {
	params := url.Values{}
	params.Set("uri", uri)
	params.Set("depth", strconv.Itoa(depth))
	var out getPostThreadOutput
	if err := c.query(ctx, "app.bsky.feed.getPostThread", params, &out); err != nil {
		return nil, err
	}
	if out.Thread.Type != TypeThreadView || out.Thread.Post == nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrPostNotFound, uri, out.Thread.Type)
	}
	view := out.Thread.Post
	if len(view.Record) == 0 {
		return nil, fmt.Errorf("%w: %s has no record", ErrPostNotFound, uri)
	}
	post := &ThreadPost{URI: view.URI, CID: view.CID, Author: view.Author}
	if err := json.Unmarshal(view.Record, &post.Record); err != nil {
		return nil, fmt.Errorf("decode record of %s: %w", uri, err)
	}
	return post, nil
}

// Publish publishes a post record in the authenticated repo.
func (c *Client) Publish(ctx context.Context, post PostRecord) (StrongRef, error) {
	if post.Type == "" {
		post.Type = TypePost
	}
	if post.CreatedAt == "" {
		post.CreatedAt = c.now().UTC().Format(time.RFC3339Nano)
	}
	return c.createRecord(ctx, TypePost, post)
}

// Like records a like of subject.
func (c *Client) Like(ctx context.Context, subject StrongRef) error {
	_, err := c.createRecord(ctx, TypeLike, likeRecord{
		Type:      TypeLike,
		Subject:   subject,
		CreatedAt: c.now().UTC().Format(time.RFC3339Nano),
	})
	return err
}

func (c *Client) createRecord(ctx context.Context, collection string, record any) (StrongRef, error) {
	sess := c.Session()
	if sess == nil {
		return StrongRef{}, ErrNotAuthenticated
	}
	var out StrongRef
	err := c.procedure(ctx, "com.atproto.repo.createRecord", createRecordInput{
		Repo:       sess.DID,
		Collection: collection,
		Record:     record,
	}, &out)
	if err != nil {
		return StrongRef{}, fmt.Errorf("create %s record: %w", collection, err)
	}
	return out, nil
}

// ResolveHandle returns the DID for a handle.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	params := url.Values{}
	params.Set("handle", handle)
	var out resolveHandleOutput
	if err := c.query(ctx, "com.atproto.identity.resolveHandle", params, &out); err != nil {
		return "", err
	}
	if out.DID == "" {
		return "", fmt.Errorf("handle %s resolved to an empty DID", handle)
	}
	return out.DID, nil
}

// UploadBlob stores binary data and returns the blob reference to embed.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*Blob, error) {
	var out uploadBlobOutput
	if err := c.call(ctx, http.MethodPost, "com.atproto.repo.uploadBlob", nil, data, mimeType, &out); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	if out.Blob.Type == "" {
		out.Blob.Type = "blob"
	}
	return &out.Blob, nil
}
