// Package conversation stores and replays turn history as documents in a
// reserved index of pkg/docstore, so history can be loaded chronologically
// or recalled by semantic similarity.
package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"meridian/pkg/docstore"
	"meridian/pkg/embeddings"
	"meridian/pkg/errs"
	"meridian/pkg/logsink"
)

// reservedIndex is the document-store index conversation history lives in.
const reservedIndex = "conversations"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation history.
type Message struct {
	ID         uint64
	Role       Role
	Content    string
	ToolCallID string
	ToolName   string
	Timestamp  int64
}

type messageMeta struct {
	Role       Role   `json:"role"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// OnOrphanPolicy names how Load* handles a tool message whose introducing
// assistant message cannot be found anywhere in history (e.g. it was
// deleted, never written, or predates this store). This is deliberately
// explicit and configurable rather than silently dropped.
type OnOrphanPolicy string

const (
	// OnOrphanDrop removes the orphaned tool message from the returned
	// history. This is the default.
	OnOrphanDrop OnOrphanPolicy = "drop"
	// OnOrphanSynthesize keeps the orphaned tool message and inserts a
	// placeholder assistant message immediately before it, so the
	// pairing invariant still holds for any caller that assumes it.
	OnOrphanSynthesize OnOrphanPolicy = "synthesize"
)

// Config controls optional Store behavior.
type Config struct {
	// OnOrphan selects drop-vs-synthesize handling for an orphaned tool
	// message. Zero value behaves as OnOrphanDrop.
	OnOrphan OnOrphanPolicy
	// Log, if set, receives one entry per orphan handled.
	Log *logsink.Sink
}

func (c Config) withDefaults() Config {
	if c.OnOrphan == "" {
		c.OnOrphan = OnOrphanDrop
	}
	return c
}

// Store is a conversation history backed by a document store.
type Store struct {
	docs      *docstore.Store
	embedder  *embeddings.Client
	dimension int
	cfg       Config
}

// New wires a conversation Store to a document store and embedding client,
// ensuring the reserved index exists with dimension matching the embedder.
// Equivalent to NewWithConfig(docs, embedder, Config{}).
func New(docs *docstore.Store, embedder *embeddings.Client) (*Store, error) {
	return NewWithConfig(docs, embedder, Config{})
}

// NewWithConfig is New with explicit orphan-handling and logging behavior.
func NewWithConfig(docs *docstore.Store, embedder *embeddings.Client, cfg Config) (*Store, error) {
	dim := embedder.Dimension()
	if err := docs.EnsureIndex(reservedIndex, dim, 0); err != nil {
		return nil, err
	}
	return &Store{docs: docs, embedder: embedder, dimension: dim, cfg: cfg.withDefaults()}, nil
}

// Append embeds content (or stores a zero vector if the embedder is
// unconfigured) and records the message with the current time as its
// timestamp.
func (s *Store) Append(ctx context.Context, role Role, content, toolCallID, toolName string) error {
	return s.appendAt(ctx, role, content, toolCallID, toolName, time.Now().Unix())
}

func (s *Store) appendAt(ctx context.Context, role Role, content, toolCallID, toolName string, timestamp int64) error {
	vec, err := s.embedder.EmbedOrZero(ctx, content)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(messageMeta{Role: role, ToolCallID: toolCallID, ToolName: toolName})
	if err != nil {
		return errs.Wrap(errs.InternalError, "marshaling message metadata", err)
	}
	_, err = s.docs.Add(ctx, reservedIndex, content, vec, string(role), "conversation", meta, timestamp)
	return err
}

// LoadWindow returns the most recent n messages in chronological order,
// widened if necessary so no tool message appears without the assistant
// message that introduced its tool_call_id.
func (s *Store) LoadWindow(ctx context.Context, n int) ([]Message, error) {
	all, err := s.allMessages(ctx)
	if err != nil {
		return nil, err
	}
	window := all
	if len(all) > n {
		window = all[len(all)-n:]
	}
	return s.widenForToolPairing(all, window), nil
}

// LoadExtended returns the last `recent` chronological messages plus up to
// `semanticK` semantically-relevant earlier ones, deduplicated and
// returned in chronological order.
func (s *Store) LoadExtended(ctx context.Context, recent, semanticK int, query string) ([]Message, error) {
	all, err := s.allMessages(ctx)
	if err != nil {
		return nil, err
	}
	recentMsgs := all
	if len(all) > recent {
		recentMsgs = all[len(all)-recent:]
	}
	recentMsgs = s.widenForToolPairing(all, recentMsgs)

	if semanticK <= 0 || !s.embedder.IsConfigured() || query == "" {
		return recentMsgs, nil
	}

	semanticMsgs, err := s.Search(ctx, query, semanticK)
	if err != nil {
		return nil, err
	}

	seen := map[uint64]bool{}
	for _, m := range recentMsgs {
		seen[m.ID] = true
	}
	merged := append([]Message{}, recentMsgs...)
	for _, m := range semanticMsgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	merged = s.widenForToolPairing(all, merged)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged, nil
}

// Search returns messages in pure semantic-similarity order (not
// chronological).
func (s *Store) Search(ctx context.Context, query string, k int) ([]Message, error) {
	if !s.embedder.IsConfigured() {
		return nil, errs.New(errs.ConflictingState, "semantic search requires a configured embeddings client")
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := s.docs.Search(ctx, reservedIndex, queryVec, k)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(results))
	for i, r := range results {
		out[i] = toMessage(r.Document)
	}
	return out, nil
}

// ClearConversations drops the reserved index, discarding all history.
func (s *Store) ClearConversations() {
	ctx := context.Background()
	if msgs, err := s.allMessages(ctx); err == nil {
		for _, m := range msgs {
			_ = s.docs.Delete(ctx, reservedIndex, m.ID)
		}
	}
	s.docs.Vectors().DropIndex(reservedIndex)
	s.docs.EnsureIndex(reservedIndex, s.dimension, 0)
}

func (s *Store) allMessages(ctx context.Context) ([]Message, error) {
	docs, err := s.docs.SearchByTime(ctx, reservedIndex, 0, time.Now().Unix(), -1)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(docs))
	for i, d := range docs {
		out[i] = toMessage(d)
	}
	return out, nil
}

func toMessage(d docstore.Document) Message {
	var meta messageMeta
	_ = json.Unmarshal(d.Metadata, &meta)
	return Message{
		ID:         d.ID,
		Role:       meta.Role,
		Content:    d.Content,
		ToolCallID: meta.ToolCallID,
		ToolName:   meta.ToolName,
		Timestamp:  d.Timestamp,
	}
}

// widenForToolPairing ensures that if a tool message is present in window,
// the earlier assistant message that introduced its tool_call_id is also
// present, pulling it in from the full chronological history if needed. A
// tool message whose introducing assistant message cannot be found anywhere
// in all is orphaned and handled per s.cfg.OnOrphan.
func (s *Store) widenForToolPairing(all, window []Message) []Message {
	present := map[uint64]bool{}
	for _, m := range window {
		present[m.ID] = true
	}
	needed := map[string]bool{}
	for _, m := range window {
		if m.Role == RoleTool && m.ToolCallID != "" {
			needed[m.ToolCallID] = true
		}
	}
	if len(needed) == 0 {
		return window
	}

	out := append([]Message{}, window...)
	found := map[string]bool{}
	for _, m := range all {
		if m.Role != RoleAssistant {
			continue
		}
		matched := introducedToolCallIDs(m, needed)
		if len(matched) == 0 {
			continue
		}
		for id := range matched {
			found[id] = true
		}
		if present[m.ID] {
			continue
		}
		out = append(out, m)
		present[m.ID] = true
	}

	var orphanIDs []string
	for id := range needed {
		if !found[id] {
			orphanIDs = append(orphanIDs, id)
		}
	}
	if len(orphanIDs) > 0 {
		out = s.handleOrphans(out, orphanIDs)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// introducedToolCallIDs returns the subset of ids that assistant message m's
// tool_calls envelope (stored verbatim in Content as JSON) introduces.
func introducedToolCallIDs(m Message, ids map[string]bool) map[string]bool {
	var envelope struct {
		ToolCalls []struct {
			ID string `json:"id"`
		} `json:"tool_calls"`
	}
	if json.Unmarshal([]byte(m.Content), &envelope) != nil {
		return nil
	}
	matched := map[string]bool{}
	for _, tc := range envelope.ToolCalls {
		if ids[tc.ID] {
			matched[tc.ID] = true
		}
	}
	return matched
}

// handleOrphans drops or synthesizes a placeholder for each tool message in
// msgs whose ToolCallID is in orphanIDs, per s.cfg.OnOrphan.
func (s *Store) handleOrphans(msgs []Message, orphanIDs []string) []Message {
	orphan := map[string]bool{}
	for _, id := range orphanIDs {
		orphan[id] = true
	}

	if s.cfg.OnOrphan == OnOrphanSynthesize {
		out := append([]Message{}, msgs...)
		for _, id := range orphanIDs {
			var ts int64
			for _, m := range msgs {
				if m.Role == RoleTool && m.ToolCallID == id {
					ts = m.Timestamp - 1
					break
				}
			}
			s.logOrphan("synthesized placeholder for orphaned tool message", id)
			content, err := json.Marshal(struct {
				ToolCalls []struct {
					ID string `json:"id"`
				} `json:"tool_calls"`
			}{ToolCalls: []struct {
				ID string `json:"id"`
			}{{ID: id}}})
			if err != nil {
				continue
			}
			out = append(out, Message{Role: RoleAssistant, Content: string(content), Timestamp: ts})
		}
		return out
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleTool && orphan[m.ToolCallID] {
			s.logOrphan("dropped orphaned tool message", m.ToolCallID)
			continue
		}
		out = append(out, m)
	}
	return out
}

// logOrphan records an orphan-handling decision via s.cfg.Log, if configured.
func (s *Store) logOrphan(message, toolCallID string) {
	if s.cfg.Log == nil {
		return
	}
	_ = s.cfg.Log.Write(logsink.Entry{
		Component: "conversation",
		Kind:      string(errs.ConflictingState),
		Message:   message,
		Fields:    map[string]any{"tool_call_id": toolCallID},
	})
}
