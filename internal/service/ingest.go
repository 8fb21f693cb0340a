package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/curatorhq/curator/internal/domain"
	"github.com/curatorhq/curator/internal/telemetry"
)

// ItemStore is the write side of a collection as the ingestion pipeline
// consumes it.
type ItemStore interface {
	Insert(ctx context.Context, item *domain.KnowledgeItem) error
	CountByFilter(ctx context.Context, filter domain.ItemFilter) (int64, error)
	DeleteByFilter(ctx context.Context, filter domain.ItemFilter) (int64, error)
	ListByFilter(ctx context.Context, filter domain.ItemFilter) ([]*domain.KnowledgeItem, error)
	UpdateContent(ctx context.Context, id string, text string, vector []float32) error
}

// FileFetcher downloads an event's attachments.
type FileFetcher interface {
	Fetch(ctx context.Context, att domain.Attachment) (*FetchedFile, error)
}

// Archiver keeps a raw copy of fetched attachments in durable storage.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte, contentType string) error
}

// ThreadSource resolves the full ordered thread an event belongs to, so the
// whole conversation can be stored as one replaceable unit.
type ThreadSource interface {
	FetchThread(ctx context.Context, channelKey, threadKey string) (*domain.Thread, error)
}

// ChannelRouting maps channel keys onto pipeline behavior. Channels not
// listed anywhere are not ingested; mentions still work everywhere.
type ChannelRouting struct {
	FinalChanges string
	Docs         string
	Ideas        string
	Ignored      []string
	Handle       string
}

func (r ChannelRouting) isIgnored(channel string) bool {
	for _, c := range r.Ignored {
		if c == channel {
			return true
		}
	}
	return false
}

// IngestOutcome is the structured disposition of one submitted event.
type IngestOutcome string

const (
	IngestAccepted  IngestOutcome = "accepted"
	IngestDuplicate IngestOutcome = "duplicate_skipped"
	IngestNoise     IngestOutcome = "noise_skipped"
	IngestIgnored   IngestOutcome = "ignored"
	IngestDeleted   IngestOutcome = "deleted"
	IngestUpdated   IngestOutcome = "updated"
	// IngestAsk: the event was an inline question, not content. The caller
	// runs retrieval on AskQuery; ingestion and retrieval share only the
	// store.
	IngestAsk IngestOutcome = "ask"
)

// IngestResult reports what the pipeline did with an event.
type IngestResult struct {
	Outcome  IngestOutcome
	Stored   int
	Removed  int64
	AskQuery string
}

// IngestService is the write path: dedup gate, mention grammar, channel
// routing, classification, chunking and storage. Model and storage
// collaborators degrade individually; a missing embedder leaves items for
// the backfill worker instead of blocking ingestion.
type IngestService struct {
	knowledge ItemStore
	threads   ItemStore

	seen       *SeenCache
	chunker    *Chunker
	classifier Classifier
	embedder   Embedder

	files      FileFetcher
	archive    Archiver
	threadSrc  ThreadSource
	ack        Acknowledger
	routing    ChannelRouting
}

func NewIngestService(
	knowledge, threads ItemStore,
	seen *SeenCache,
	chunker *Chunker,
	classifier Classifier,
	embedder Embedder,
	files FileFetcher,
	archive Archiver,
	threadSrc ThreadSource,
	ack Acknowledger,
	routing ChannelRouting,
) *IngestService {
	if seen == nil {
		seen = NewSeenCache(DefaultSeenCacheSize)
	}
	if chunker == nil {
		chunker = NewChunker(DefaultMaxChunkSize)
	}
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	if ack == nil {
		ack = NopAcknowledger{}
	}
	return &IngestService{
		knowledge:  knowledge,
		threads:    threads,
		seen:       seen,
		chunker:    chunker,
		classifier: classifier,
		embedder:   embedder,
		files:      files,
		archive:    archive,
		threadSrc:  threadSrc,
		ack:        ack,
		routing:    routing,
	}
}

// Submit routes one inbound event through the pipeline by kind.
func (s *IngestService) Submit(ctx context.Context, event domain.IngestEvent) (*IngestResult, error) {
	if err := event.Key().Validate(); err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Submit", telemetry.SpanAttributes{
		Operation:  "ingest",
		ChannelKey: event.ChannelKey,
		EventKind:  string(event.Kind),
	})
	defer span.End()

	switch event.Kind {
	case domain.EventKindMessage:
		return s.handleMessage(ctx, event)
	case domain.EventKindEdit:
		return s.handleEdit(ctx, event)
	case domain.EventKindDelete:
		return s.handleDelete(ctx, event)
	default:
		return nil, domain.ErrInvalidEventKind
	}
}

func (s *IngestService) handleMessage(ctx context.Context, event domain.IngestEvent) (*IngestResult, error) {
	key := event.Key()

	// Two-tier duplicate gate: the in-memory cache absorbs redelivery
	// bursts, the store check survives restarts. A store hit backfills the
	// cache so the next redelivery is absorbed without a round trip.
	if !s.seen.MarkIfNew(key.String()) {
		log.Printf("ingest: duplicate event %s (cache)", key.String())
		return &IngestResult{Outcome: IngestDuplicate}, nil
	}
	stored, err := s.alreadyStored(ctx, event)
	if err != nil {
		return nil, err
	}
	if stored {
		log.Printf("ingest: duplicate event %s (store)", key.String())
		return &IngestResult{Outcome: IngestDuplicate}, nil
	}

	if mention := ParseMention(event.Text, s.routing.Handle); mention.Kind != MentionNone {
		return s.handleMention(ctx, event, mention)
	}

	switch {
	case s.routing.isIgnored(event.ChannelKey):
		return &IngestResult{Outcome: IngestIgnored}, nil
	case event.ChannelKey == s.routing.FinalChanges:
		return s.ingestFinalChange(ctx, event)
	case event.ChannelKey == s.routing.Docs:
		return s.ingestDocs(ctx, event)
	case event.ChannelKey == s.routing.Ideas:
		return s.ingestIdea(ctx, event)
	default:
		return &IngestResult{Outcome: IngestIgnored}, nil
	}
}

// alreadyStored checks both collections for items carrying this event's
// timestamp key.
func (s *IngestService) alreadyStored(ctx context.Context, event domain.IngestEvent) (bool, error) {
	filter := domain.ItemFilter{TimestampKey: event.TimestampKey}
	for _, store := range []ItemStore{s.knowledge, s.threads} {
		count, err := store.CountByFilter(ctx, filter)
		if err != nil {
			return false, fmt.Errorf("duplicate check for %s: %w", event.Key().String(), err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// handleMention executes the command grammar. Override and plain mentions
// store immediately without classification; Ask hands the extracted query
// back to the caller.
func (s *IngestService) handleMention(ctx context.Context, event domain.IngestEvent, mention Mention) (*IngestResult, error) {
	switch mention.Kind {
	case MentionAsk:
		return &IngestResult{Outcome: IngestAsk, AskQuery: mention.Payload}, nil

	case MentionOverride:
		item := s.newItem(mention.Payload, domain.Metadata{
			Source:        domain.SourceMentionPush,
			Author:        event.Author,
			TimestampKey:  event.TimestampKey,
			SourceOfTruth: true,
			Public:        true,
		})
		item.Vector = s.embedOrNil(ctx, item.Text)
		if err := s.knowledge.Insert(ctx, item); err != nil {
			return nil, err
		}
		acknowledge(ctx, s.ack, event.Key(), ReactionStored)
		return &IngestResult{Outcome: IngestAccepted, Stored: 1}, nil

	default: // MentionPlain
		item := s.newItem(event.Text, domain.Metadata{
			Source:       domain.SourceMention,
			Author:       event.Author,
			TimestampKey: event.TimestampKey,
		})
		item.Vector = s.embedOrNil(ctx, item.Text)
		if err := s.knowledge.Insert(ctx, item); err != nil {
			return nil, err
		}
		return &IngestResult{Outcome: IngestAccepted, Stored: 1}, nil
	}
}

// ingestFinalChange stores a classified announcement as a source-of-truth
// leaf item. NOISE is skipped but stays in the dedup cache so redeliveries
// don't reclassify.
func (s *IngestService) ingestFinalChange(ctx context.Context, event domain.IngestEvent) (*IngestResult, error) {
	if strings.TrimSpace(event.Text) == "" {
		return &IngestResult{Outcome: IngestNoise}, nil
	}

	label, err := s.classifier.Classify(ctx, event.Text)
	if err != nil {
		return nil, err
	}
	if !label.Worthy() {
		log.Printf("ingest: %s classified NOISE, skipping", event.Key().String())
		return &IngestResult{Outcome: IngestNoise}, nil
	}

	item := s.newItem(event.Text, domain.Metadata{
		Source:        domain.SourceFinalChanges,
		Author:        event.Author,
		TimestampKey:  event.TimestampKey,
		SourceOfTruth: true,
	})
	item.Vector = s.embedOrNil(ctx, item.Text)
	if err := s.knowledge.Insert(ctx, item); err != nil {
		return nil, err
	}
	acknowledge(ctx, s.ack, event.Key(), ReactionStored)
	return &IngestResult{Outcome: IngestAccepted, Stored: 1}, nil
}

// ingestDocs processes a documentation upload: each attachment is fetched,
// deduplicated by (filename, timestamp), chunked by paragraph and stored
// public. The raw bytes are archived when an archive backend is configured.
// A docs message without attachments is chunked as inline documentation.
func (s *IngestService) ingestDocs(ctx context.Context, event domain.IngestEvent) (*IngestResult, error) {
	total := 0

	for _, att := range event.Attachments {
		n, err := s.ingestAttachment(ctx, event, att)
		if err != nil {
			log.Printf("ingest: attachment %q on %s failed: %v", att.Name, event.Key().String(), err)
			continue
		}
		total += n
	}

	if len(event.Attachments) == 0 && strings.TrimSpace(event.Text) != "" {
		n, err := s.storeChunks(ctx, s.chunker.ChunkDocument(event.Text), domain.Metadata{
			Source:       domain.SourceDocs,
			Author:       event.Author,
			TimestampKey: event.TimestampKey,
			Public:       true,
		})
		if err != nil {
			return nil, err
		}
		total += n
	}

	if total == 0 {
		return &IngestResult{Outcome: IngestNoise}, nil
	}
	acknowledge(ctx, s.ack, event.Key(), ReactionDocument)
	return &IngestResult{Outcome: IngestAccepted, Stored: total}, nil
}

func (s *IngestService) ingestAttachment(ctx context.Context, event domain.IngestEvent, att domain.Attachment) (int, error) {
	count, err := s.knowledge.CountByFilter(ctx, domain.ItemFilter{
		Filename:     att.Name,
		TimestampKey: event.TimestampKey,
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Printf("ingest: %q already indexed for %s", att.Name, event.Key().String())
		return 0, nil
	}

	if s.files == nil {
		return 0, fmt.Errorf("no file fetcher configured")
	}
	fetched, err := s.files.Fetch(ctx, att)
	if err != nil {
		return 0, err
	}

	if s.archive != nil {
		archiveKey := event.TimestampKey + "/" + fetched.Name
		if err := s.archive.Archive(ctx, archiveKey, fetched.Raw, fetched.ContentType); err != nil {
			log.Printf("ingest: archive of %q failed: %v", fetched.Name, err)
		}
	}

	if fetched.Text == "" {
		return 0, nil
	}

	return s.storeChunks(ctx, s.chunker.ChunkDocument(fetched.Text), domain.Metadata{
		Source:       domain.SourceDocs,
		Author:       event.Author,
		Filename:     fetched.Name,
		TimestampKey: event.TimestampKey,
		Public:       true,
	})
}

// storeChunks embeds chunks concurrently and inserts them in order. A failed
// embedding leaves that chunk's vector nil for the backfill worker.
func (s *IngestService) storeChunks(ctx context.Context, chunks []string, meta domain.Metadata) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, chunk := range chunks {
		g.Go(func() error {
			vectors[i] = s.embedOrNil(gctx, chunk)
			return nil
		})
	}
	// embedOrNil never fails the group; Wait only orders the writes after
	// the embedding fan-out.
	_ = g.Wait()

	stored := 0
	for i, chunk := range chunks {
		chunkMeta := meta
		chunkMeta.ChunkIndex = i
		item := s.newItem(chunk, chunkMeta)
		item.Vector = vectors[i]
		if err := s.knowledge.Insert(ctx, item); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// ingestIdea stores a discussion thread as one replaceable unit: the full
// thread is re-fetched, flattened to a single chunk, and any prior version
// under the same thread key is replaced. When no thread source is available
// the new message is merged into the stored unit instead of replacing it.
func (s *IngestService) ingestIdea(ctx context.Context, event domain.IngestEvent) (*IngestResult, error) {
	threadKey := event.ThreadKey
	if threadKey == "" {
		threadKey = event.TimestampKey
	}

	thread := &domain.Thread{
		Key:      threadKey,
		Messages: []domain.ThreadMessage{{Author: event.Author, Text: event.Text}},
	}
	fullThread := false
	if s.threadSrc != nil {
		fetched, err := s.threadSrc.FetchThread(ctx, event.ChannelKey, threadKey)
		if err != nil {
			log.Printf("ingest: thread fetch for %s failed (%v), merging with stored unit", threadKey, err)
		} else if fetched != nil && len(fetched.Messages) > 0 {
			thread = fetched
			fullThread = true
		}
	}

	chunks := s.chunker.ChunkThread(thread.Messages)
	if len(chunks) == 0 || strings.TrimSpace(chunks[0]) == "" {
		return &IngestResult{Outcome: IngestNoise}, nil
	}
	chunk := chunks[0]

	label, err := s.classifier.Classify(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if !label.Worthy() {
		return &IngestResult{Outcome: IngestNoise}, nil
	}

	// Without the full conversation, the stored unit is the only copy of the
	// earlier messages. Fold it in rather than replacing the whole thread
	// with one reply.
	if !fullThread {
		prior, err := s.threads.ListByFilter(ctx, domain.ItemFilter{ThreadKey: threadKey})
		if err != nil {
			return nil, err
		}
		if len(prior) > 0 {
			if existing := strings.TrimSpace(prior[0].Text); existing != "" && !strings.Contains(existing, chunk) {
				chunk = existing + "\n" + chunk
			}
		}
	}

	removed, err := s.threads.DeleteByFilter(ctx, domain.ItemFilter{ThreadKey: threadKey})
	if err != nil {
		return nil, err
	}

	item := s.newItem(chunk, domain.Metadata{
		Source:       domain.SourceIdeas,
		Author:       event.Author,
		TimestampKey: event.TimestampKey,
		ThreadKey:    threadKey,
	})
	item.Vector = s.embedOrNil(ctx, item.Text)
	if err := s.threads.Insert(ctx, item); err != nil {
		return nil, err
	}

	if removed > 0 {
		return &IngestResult{Outcome: IngestUpdated, Stored: 1, Removed: removed}, nil
	}
	return &IngestResult{Outcome: IngestAccepted, Stored: 1}, nil
}

// handleEdit re-ingests changed content in place. File chunks keyed to the
// original upload are left untouched; only the message-born items change. An
// edit to a message that was never stored routes through the message path.
func (s *IngestService) handleEdit(ctx context.Context, event domain.IngestEvent) (*IngestResult, error) {
	key := event.Key()
	s.seen.Forget(key.String())

	if event.ChannelKey == s.routing.Ideas {
		// Thread edits rebuild the whole thread unit.
		s.seen.Mark(key.String())
		return s.ingestIdea(ctx, event)
	}

	existing, err := s.knowledge.ListByFilter(ctx, domain.ItemFilter{TimestampKey: event.TimestampKey})
	if err != nil {
		return nil, err
	}
	// File chunks carry the upload's timestamp but have their own lifecycle.
	messageItems := existing[:0:0]
	for _, item := range existing {
		if item.Metadata.Filename == "" {
			messageItems = append(messageItems, item)
		}
	}

	if len(messageItems) == 0 {
		return s.handleMessage(ctx, event)
	}
	s.seen.Mark(key.String())

	if strings.TrimSpace(event.Text) == "" {
		return &IngestResult{Outcome: IngestIgnored}, nil
	}

	// A final_changes edit can demote the item to NOISE entirely.
	if messageItems[0].Metadata.Source == domain.SourceFinalChanges {
		label, err := s.classifier.Classify(ctx, event.Text)
		if err != nil {
			return nil, err
		}
		if !label.Worthy() {
			removed, err := s.knowledge.DeleteByFilter(ctx, domain.ItemFilter{
				TimestampKey: event.TimestampKey,
				Source:       domain.SourceFinalChanges,
			})
			if err != nil {
				return nil, err
			}
			return &IngestResult{Outcome: IngestDeleted, Removed: removed}, nil
		}
	}

	vector := s.embedOrNil(ctx, event.Text)
	updated := 0
	for _, item := range messageItems {
		if err := s.knowledge.UpdateContent(ctx, item.ID, event.Text, vector); err != nil {
			return nil, err
		}
		updated++
	}
	return &IngestResult{Outcome: IngestUpdated, Stored: updated}, nil
}

// handleDelete removes every item born from the event, in both collections,
// and purges the dedup cache so the key could be ingested fresh again.
func (s *IngestService) handleDelete(ctx context.Context, event domain.IngestEvent) (*IngestResult, error) {
	filter := domain.ItemFilter{TimestampKey: event.TimestampKey}

	var removed int64
	for _, store := range []ItemStore{s.knowledge, s.threads} {
		n, err := store.DeleteByFilter(ctx, filter)
		if err != nil {
			return nil, err
		}
		removed += n
	}

	if event.ThreadKey != "" {
		n, err := s.threads.DeleteByFilter(ctx, domain.ItemFilter{ThreadKey: event.ThreadKey})
		if err != nil {
			return nil, err
		}
		removed += n
	}

	s.seen.PurgeByTimestamp(event.TimestampKey)
	log.Printf("ingest: delete %s removed %d items", event.Key().String(), removed)
	return &IngestResult{Outcome: IngestDeleted, Removed: removed}, nil
}

func (s *IngestService) newItem(text string, meta domain.Metadata) *domain.KnowledgeItem {
	now := time.Now().UTC()
	return &domain.KnowledgeItem{
		ID:        uuid.NewString(),
		Text:      strings.TrimSpace(text),
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// embedOrNil returns the embedding for text, or nil when no embedder is
// configured or the call fails. Nil vectors are picked up later by the
// backfill worker.
func (s *IngestService) embedOrNil(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		log.Printf("ingest: embedding failed (%v), deferring to backfill", err)
		return nil
	}
	return vec
}
