package bsky

import (
	"encoding/json"
	"fmt"
)

// Lexicon type identifiers used by the bot.
const (
	TypePost         = "app.bsky.feed.post"
	TypeLike         = "app.bsky.feed.like"
	TypeEmbedExt     = "app.bsky.embed.external"
	TypeThreadView   = "app.bsky.feed.defs#threadViewPost"
	TypeNotFoundPost = "app.bsky.feed.defs#notFoundPost"
	TypeBlockedPost  = "app.bsky.feed.defs#blockedPost"

	FeatureLink    = "app.bsky.richtext.facet#link"
	FeatureMention = "app.bsky.richtext.facet#mention"
	FeatureTag     = "app.bsky.richtext.facet#tag"
)

// Notification reasons.
const (
	ReasonMention = "mention"
	ReasonReply   = "reply"
	ReasonLike    = "like"
)

// StrongRef identifies a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Valid reports whether both identifiers are present.
func (r StrongRef) Valid() bool {
	return r.URI != "" && r.CID != ""
}

// ReplyRef attaches a post to a thread. Root is the first post of the
// conversation and Parent is the post being answered.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// PostRecord is the app.bsky.feed.post record.
type PostRecord struct {
	Type      string    `json:"$type,omitempty"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Facets    []Facet   `json:"facets,omitempty"`
	Embed     *Embed    `json:"embed,omitempty"`
	Langs     []string  `json:"langs,omitempty"`
}

// IsReply reports whether the record belongs to an existing thread.
func (p *PostRecord) IsReply() bool {
	return p != nil && p.Reply != nil
}

// Facet annotates the byte range [ByteStart, ByteEnd) of the post text.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// ByteSlice is a UTF-8 byte range into post text.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature is a flattened union of the link, mention and tag features.
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Embed is the app.bsky.embed.external union member.
type Embed struct {
	Type     string    `json:"$type"`
	External *External `json:"external,omitempty"`
}

// External is a link card.
type External struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumb       *Blob  `json:"thumb,omitempty"`
}

// Blob references uploaded binary data.
type Blob struct {
	Type     string   `json:"$type"`
	Ref      BlobLink `json:"ref"`
	MimeType string   `json:"mimeType"`
	Size     int64    `json:"size"`
}

// BlobLink is the CID link of a blob.
type BlobLink struct {
	Link string `json:"$link"`
}

// Actor is the minimal profile view carried on notifications and posts.
type Actor struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// Notification is one entry of app.bsky.notification.listNotifications.
type Notification struct {
	URI       string          `json:"uri"`
	CID       string          `json:"cid"`
	Author    Actor           `json:"author"`
	Reason    string          `json:"reason"`
	Record    json.RawMessage `json:"record"`
	IsRead    bool            `json:"isRead"`
	IndexedAt string          `json:"indexedAt"`
}

// Ref returns the notification subject as a strong ref.
func (n Notification) Ref() StrongRef {
	return StrongRef{URI: n.URI, CID: n.CID}
}

// Post decodes the notification record as a post.
func (n Notification) Post() (*PostRecord, error) {
	if len(n.Record) == 0 || string(n.Record) == "null" {
		return nil, fmt.Errorf("notification %s has no record", n.URI)
	}
	var post PostRecord
	if err := json.Unmarshal(n.Record, &post); err != nil {
		return nil, fmt.Errorf("decode record of %s: %w", n.URI, err)
	}
	return &post, nil
}

// ThreadPost is the post at the anchor of a getPostThread response.
type ThreadPost struct {
	URI    string
	CID    string
	Author Actor
	Record PostRecord
}

// Ref returns the post identity.
func (p *ThreadPost) Ref() StrongRef {
	return StrongRef{URI: p.URI, CID: p.CID}
}

type postView struct {
	URI    string          `json:"uri"`
	CID    string          `json:"cid"`
	Author Actor           `json:"author"`
	Record json.RawMessage `json:"record"`
}

type threadView struct {
	Type string    `json:"$type"`
	Post *postView `json:"post"`
}

type getPostThreadOutput struct {
	Thread threadView `json:"thread"`
}

type listNotificationsOutput struct {
	Cursor        string         `json:"cursor"`
	Notifications []Notification `json:"notifications"`
}

type createRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type likeRecord struct {
	Type      string    `json:"$type"`
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

type uploadBlobOutput struct {
	Blob Blob `json:"blob"`
}

type resolveHandleOutput struct {
	DID string `json:"did"`
}
