package service

import (
	"context"
	"errors"
	"testing"

	"github.com/curatorhq/curator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockItemStore is a mock implementation of ItemStore
type MockItemStore struct {
	mock.Mock
}

func (m *MockItemStore) Insert(ctx context.Context, item *domain.KnowledgeItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockItemStore) CountByFilter(ctx context.Context, filter domain.ItemFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockItemStore) DeleteByFilter(ctx context.Context, filter domain.ItemFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockItemStore) ListByFilter(ctx context.Context, filter domain.ItemFilter) ([]*domain.KnowledgeItem, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeItem), args.Error(1)
}

func (m *MockItemStore) UpdateContent(ctx context.Context, id string, text string, vector []float32) error {
	args := m.Called(ctx, id, text, vector)
	return args.Error(0)
}

// MockClassifier is a mock implementation of Classifier
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(domain.Classification), args.Error(1)
}

// MockFileFetcher is a mock implementation of FileFetcher
type MockFileFetcher struct {
	mock.Mock
}

func (m *MockFileFetcher) Fetch(ctx context.Context, att domain.Attachment) (*FetchedFile, error) {
	args := m.Called(ctx, att)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FetchedFile), args.Error(1)
}

// MockArchiver is a mock implementation of Archiver
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

// MockThreadSource is a mock implementation of ThreadSource
type MockThreadSource struct {
	mock.Mock
}

func (m *MockThreadSource) FetchThread(ctx context.Context, channelKey, threadKey string) (*domain.Thread, error) {
	args := m.Called(ctx, channelKey, threadKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Thread), args.Error(1)
}

// MockAcknowledger is a mock implementation of Acknowledger
type MockAcknowledger struct {
	mock.Mock
}

func (m *MockAcknowledger) Acknowledge(ctx context.Context, key domain.IngestionKey, reaction string) error {
	args := m.Called(ctx, key, reaction)
	return args.Error(0)
}

var testRouting = ChannelRouting{
	FinalChanges: "C-FINAL",
	Docs:         "C-DOCS",
	Ideas:        "C-IDEAS",
	Ignored:      []string{"C-RANDOM"},
	Handle:       "@curator",
}

type ingestFixture struct {
	knowledge  *MockItemStore
	threads    *MockItemStore
	classifier *MockClassifier
	embedder   *MockEmbedder
	files      *MockFileFetcher
	archive    *MockArchiver
	threadSrc  *MockThreadSource
	ack        *MockAcknowledger
	svc        *IngestService
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		knowledge:  new(MockItemStore),
		threads:    new(MockItemStore),
		classifier: new(MockClassifier),
		embedder:   new(MockEmbedder),
		files:      new(MockFileFetcher),
		archive:    new(MockArchiver),
		threadSrc:  new(MockThreadSource),
		ack:        new(MockAcknowledger),
	}
	f.svc = NewIngestService(
		f.knowledge, f.threads,
		NewSeenCache(100), NewChunker(500),
		f.classifier, f.embedder,
		f.files, f.archive, f.threadSrc, f.ack,
		testRouting,
	)
	return f
}

// expectNotStored sets up the duplicate gate to report the event as new.
func (f *ingestFixture) expectNotStored(ts string) {
	filter := domain.ItemFilter{TimestampKey: ts}
	f.knowledge.On("CountByFilter", mock.Anything, filter).Return(int64(0), nil)
	f.threads.On("CountByFilter", mock.Anything, filter).Return(int64(0), nil)
}

func messageEvent(channel, ts, text string) domain.IngestEvent {
	return domain.IngestEvent{
		Kind:         domain.EventKindMessage,
		ChannelKey:   channel,
		TimestampKey: ts,
		Author:       "alice",
		Text:         text,
	}
}

func TestSubmit_InvalidKey(t *testing.T) {
	f := newIngestFixture()
	_, err := f.svc.Submit(context.Background(), domain.IngestEvent{Kind: domain.EventKindMessage})
	assert.Error(t, err)
}

func TestSubmit_UnknownKind(t *testing.T) {
	f := newIngestFixture()
	event := messageEvent("C-FINAL", "100.1", "text")
	event.Kind = "reaction"
	_, err := f.svc.Submit(context.Background(), event)
	assert.ErrorIs(t, err, domain.ErrInvalidEventKind)
}

func TestSubmit_DuplicateAbsorbedByCache(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("100.1")
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationDocument, nil)
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionStored).Return(nil)

	event := messageEvent("C-FINAL", "100.1", "switched the exporter to batched writes")

	first, err := f.svc.Submit(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, first.Outcome)

	second, err := f.svc.Submit(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, second.Outcome)

	f.knowledge.AssertNumberOfCalls(t, "Insert", 1)
}

func TestSubmit_DuplicateFoundInStore(t *testing.T) {
	f := newIngestFixture()
	filter := domain.ItemFilter{TimestampKey: "100.2"}
	f.knowledge.On("CountByFilter", mock.Anything, filter).Return(int64(1), nil)

	result, err := f.svc.Submit(context.Background(), messageEvent("C-FINAL", "100.2", "anything"))

	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, result.Outcome)
	f.knowledge.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmit_DuplicateCheckErrorPropagates(t *testing.T) {
	f := newIngestFixture()
	filter := domain.ItemFilter{TimestampKey: "100.3"}
	f.knowledge.On("CountByFilter", mock.Anything, filter).Return(int64(0), errors.New("connection refused"))

	_, err := f.svc.Submit(context.Background(), messageEvent("C-FINAL", "100.3", "anything"))
	assert.Error(t, err)
}

func TestSubmit_MentionOverrideStoresEverywhere(t *testing.T) {
	// Override works even in a channel the router would otherwise ignore.
	f := newIngestFixture()
	f.expectNotStored("101.1")
	f.embedder.On("GenerateEmbedding", mock.Anything, "the deploy window is Tuesdays at 10am").
		Return([]float32{1, 0, 0}, nil)

	var inserted *domain.KnowledgeItem
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*domain.KnowledgeItem)
	}).Return(nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionStored).Return(nil)

	event := messageEvent("C-RANDOM", "101.1", "@curator :PUSH the deploy window is Tuesdays at 10am")
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	assert.Equal(t, 1, result.Stored)
	require.NotNil(t, inserted)
	assert.Equal(t, domain.SourceMentionPush, inserted.Metadata.Source)
	assert.True(t, inserted.Metadata.SourceOfTruth)
	assert.True(t, inserted.Metadata.Public)
	assert.Equal(t, "the deploy window is Tuesdays at 10am", inserted.Text)
	assert.NotEmpty(t, inserted.ID)
	f.ack.AssertExpectations(t)
	f.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
}

func TestSubmit_MentionAskReturnsQuery(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("101.2")

	event := messageEvent("C-RANDOM", "101.2", "@curator :ASK when is the deploy window?")
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestAsk, result.Outcome)
	assert.Equal(t, "when is the deploy window?", result.AskQuery)
	f.knowledge.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmit_PlainMentionStoresPrivate(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("101.3")
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)

	var inserted *domain.KnowledgeItem
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*domain.KnowledgeItem)
	}).Return(nil)

	event := messageEvent("C-RANDOM", "101.3", "hey @curator this might be useful later")
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	require.NotNil(t, inserted)
	assert.Equal(t, domain.SourceMention, inserted.Metadata.Source)
	assert.False(t, inserted.Metadata.Public)
	assert.False(t, inserted.Metadata.SourceOfTruth)
	f.ack.AssertNotCalled(t, "Acknowledge", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_IgnoredChannels(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("102.1")
	f.expectNotStored("102.2")

	listed, err := f.svc.Submit(context.Background(), messageEvent("C-RANDOM", "102.1", "chatter"))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, listed.Outcome)

	unknown, err := f.svc.Submit(context.Background(), messageEvent("C-UNKNOWN", "102.2", "chatter"))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, unknown.Outcome)
}

func TestSubmit_FinalChangeStoredAsSourceOfTruth(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("103.1")
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationDocument, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)

	var inserted *domain.KnowledgeItem
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*domain.KnowledgeItem)
	}).Return(nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionStored).Return(nil)

	result, err := f.svc.Submit(context.Background(),
		messageEvent("C-FINAL", "103.1", "rate limiter now keys on org id instead of ip"))

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	require.NotNil(t, inserted)
	assert.Equal(t, domain.SourceFinalChanges, inserted.Metadata.Source)
	assert.True(t, inserted.Metadata.SourceOfTruth)
	assert.Equal(t, []float32{1, 0, 0}, inserted.Vector)
}

func TestSubmit_FinalChangeNoiseSkipped(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("103.2")
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationNoise, nil)

	result, err := f.svc.Submit(context.Background(), messageEvent("C-FINAL", "103.2", "thanks all!"))

	require.NoError(t, err)
	assert.Equal(t, IngestNoise, result.Outcome)
	f.knowledge.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmit_FinalChangeEmptyText(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("103.3")

	result, err := f.svc.Submit(context.Background(), messageEvent("C-FINAL", "103.3", "   "))

	require.NoError(t, err)
	assert.Equal(t, IngestNoise, result.Outcome)
	f.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
}

func TestSubmit_EmbeddingFailureDefersToBackfill(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("103.4")
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationDocument, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, errors.New("quota exceeded"))

	var inserted *domain.KnowledgeItem
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*domain.KnowledgeItem)
	}).Return(nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionStored).Return(nil)

	result, err := f.svc.Submit(context.Background(),
		messageEvent("C-FINAL", "103.4", "moved sessions to redis"))

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	require.NotNil(t, inserted)
	assert.Nil(t, inserted.Vector, "failed embedding stores the item anyway")
}

func TestSubmit_DocsAttachmentChunkedAndArchived(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("104.1")
	f.knowledge.On("CountByFilter", mock.Anything, domain.ItemFilter{
		Filename: "runbook.md", TimestampKey: "104.1",
	}).Return(int64(0), nil)

	att := domain.Attachment{Name: "runbook.md", URL: "https://files.example.com/runbook.md"}
	f.files.On("Fetch", mock.Anything, att).Return(&FetchedFile{
		Name:        "runbook.md",
		ContentType: "text/markdown",
		Raw:         []byte("# Runbook\n\npage the on-call first"),
		Text:        "# Runbook\n\npage the on-call first",
	}, nil)
	f.archive.On("Archive", mock.Anything, "104.1/runbook.md", mock.Anything, "text/markdown").Return(nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)

	var inserted []*domain.KnowledgeItem
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = append(inserted, args.Get(1).(*domain.KnowledgeItem))
	}).Return(nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionDocument).Return(nil)

	event := messageEvent("C-DOCS", "104.1", "")
	event.Attachments = []domain.Attachment{att}
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	assert.Equal(t, len(inserted), result.Stored)
	require.NotEmpty(t, inserted)
	for i, item := range inserted {
		assert.Equal(t, domain.SourceDocs, item.Metadata.Source)
		assert.Equal(t, "runbook.md", item.Metadata.Filename)
		assert.True(t, item.Metadata.Public)
		assert.Equal(t, i, item.Metadata.ChunkIndex)
	}
	f.archive.AssertExpectations(t)
}

func TestSubmit_DocsAttachmentAlreadyIndexed(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("104.2")
	f.knowledge.On("CountByFilter", mock.Anything, domain.ItemFilter{
		Filename: "runbook.md", TimestampKey: "104.2",
	}).Return(int64(3), nil)

	event := messageEvent("C-DOCS", "104.2", "")
	event.Attachments = []domain.Attachment{{Name: "runbook.md", URL: "https://files.example.com/runbook.md"}}
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestNoise, result.Outcome)
	f.files.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestSubmit_DocsBinaryAttachmentArchivedNotIndexed(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("104.3")
	f.knowledge.On("CountByFilter", mock.Anything, mock.Anything).Return(int64(0), nil)

	att := domain.Attachment{Name: "diagram.png", URL: "https://files.example.com/diagram.png"}
	f.files.On("Fetch", mock.Anything, att).Return(&FetchedFile{
		Name:        "diagram.png",
		ContentType: "image/png",
		Raw:         []byte{0x89, 0x50},
	}, nil)
	f.archive.On("Archive", mock.Anything, "104.3/diagram.png", mock.Anything, "image/png").Return(nil)

	event := messageEvent("C-DOCS", "104.3", "")
	event.Attachments = []domain.Attachment{att}
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestNoise, result.Outcome)
	f.knowledge.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	f.archive.AssertExpectations(t)
}

func TestSubmit_DocsInlineTextChunked(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("104.4")
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)

	var inserted []*domain.KnowledgeItem
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = append(inserted, args.Get(1).(*domain.KnowledgeItem))
	}).Return(nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionDocument).Return(nil)

	result, err := f.svc.Submit(context.Background(),
		messageEvent("C-DOCS", "104.4", "The staging cluster self-heals; do not restart nodes by hand."))

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	require.Len(t, inserted, 1)
	assert.True(t, inserted[0].Metadata.Public)
	assert.Empty(t, inserted[0].Metadata.Filename)
}

func TestSubmit_IdeaStoredAsThreadUnit(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("105.1")
	f.threadSrc.On("FetchThread", mock.Anything, "C-IDEAS", "105.1").Return(nil, errors.New("no session"))
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationIdea, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	f.threads.On("ListByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "105.1"}).Return([]*domain.KnowledgeItem{}, nil)
	f.threads.On("DeleteByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "105.1"}).Return(int64(0), nil)

	var inserted *domain.KnowledgeItem
	f.threads.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*domain.KnowledgeItem)
	}).Return(nil)

	result, err := f.svc.Submit(context.Background(),
		messageEvent("C-IDEAS", "105.1", "what if exports ran as background jobs?"))

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	require.NotNil(t, inserted)
	assert.Equal(t, domain.SourceIdeas, inserted.Metadata.Source)
	assert.Equal(t, "105.1", inserted.Metadata.ThreadKey)
	f.knowledge.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmit_IdeaReplyReplacesThreadUnit(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("105.9")
	f.threadSrc.On("FetchThread", mock.Anything, "C-IDEAS", "105.2").Return(&domain.Thread{
		Key: "105.2",
		Messages: []domain.ThreadMessage{
			{Author: "alice", Text: "what if exports ran as background jobs?"},
			{Author: "bob", Text: "we tried that in 2023, the queue backed up"},
		},
	}, nil)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationIdea, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	f.threads.On("DeleteByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "105.2"}).Return(int64(1), nil)

	var inserted *domain.KnowledgeItem
	f.threads.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*domain.KnowledgeItem)
	}).Return(nil)

	event := messageEvent("C-IDEAS", "105.9", "we tried that in 2023, the queue backed up")
	event.ThreadKey = "105.2"
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestUpdated, result.Outcome)
	assert.EqualValues(t, 1, result.Removed)
	require.NotNil(t, inserted)
	assert.Contains(t, inserted.Text, "alice")
	assert.Contains(t, inserted.Text, "bob")
	assert.Equal(t, "105.2", inserted.Metadata.ThreadKey)
}

func TestSubmit_IdeaReplyWithoutThreadSourceKeepsEarlierMessages(t *testing.T) {
	// With no thread source configured, a reply must not shrink the stored
	// unit down to itself; the prior conversation is folded in.
	f := newIngestFixture()
	svc := NewIngestService(
		f.knowledge, f.threads,
		NewSeenCache(100), NewChunker(500),
		f.classifier, f.embedder,
		f.files, f.archive, nil, f.ack,
		testRouting,
	)
	f.expectNotStored("105.6")
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationIdea, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	f.threads.On("ListByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "105.5"}).
		Return([]*domain.KnowledgeItem{
			{ID: "prior", Text: "alice: what if exports ran as background jobs?"},
		}, nil)
	f.threads.On("DeleteByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "105.5"}).Return(int64(1), nil)

	var inserted *domain.KnowledgeItem
	f.threads.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(*domain.KnowledgeItem)
	}).Return(nil)

	event := messageEvent("C-IDEAS", "105.6", "we tried that in 2023, the queue backed up")
	event.Author = "bob"
	event.ThreadKey = "105.5"

	result, err := svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestUpdated, result.Outcome)
	require.NotNil(t, inserted)
	assert.Contains(t, inserted.Text, "alice: what if exports ran as background jobs?")
	assert.Contains(t, inserted.Text, "bob: we tried that in 2023")
}

func TestSubmit_IdeaNoiseNotStored(t *testing.T) {
	f := newIngestFixture()
	f.expectNotStored("105.3")
	f.threadSrc.On("FetchThread", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no session"))
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationNoise, nil)

	result, err := f.svc.Submit(context.Background(), messageEvent("C-IDEAS", "105.3", "lol nice"))

	require.NoError(t, err)
	assert.Equal(t, IngestNoise, result.Outcome)
	f.threads.AssertNotCalled(t, "DeleteByFilter", mock.Anything, mock.Anything)
	f.threads.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSubmit_EditUpdatesMessageItems(t *testing.T) {
	f := newIngestFixture()
	existing := []*domain.KnowledgeItem{
		{ID: "item-1", Text: "old text", Metadata: domain.Metadata{Source: domain.SourceDocs, TimestampKey: "106.1"}},
	}
	f.knowledge.On("ListByFilter", mock.Anything, domain.ItemFilter{TimestampKey: "106.1"}).Return(existing, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, "corrected text").Return([]float32{0, 1, 0}, nil)
	f.knowledge.On("UpdateContent", mock.Anything, "item-1", "corrected text", []float32{0, 1, 0}).Return(nil)

	event := messageEvent("C-DOCS", "106.1", "corrected text")
	event.Kind = domain.EventKindEdit
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestUpdated, result.Outcome)
	assert.Equal(t, 1, result.Stored)
	f.knowledge.AssertExpectations(t)
}

func TestSubmit_EditLeavesFileChunksAlone(t *testing.T) {
	// Only file chunks share the edited message's timestamp: the edit is
	// treated as a brand-new message, and the chunks stay untouched.
	f := newIngestFixture()
	fileChunks := []*domain.KnowledgeItem{
		{ID: "chunk-1", Metadata: domain.Metadata{Filename: "runbook.md", TimestampKey: "106.2"}},
	}
	f.knowledge.On("ListByFilter", mock.Anything, domain.ItemFilter{TimestampKey: "106.2"}).Return(fileChunks, nil)
	f.expectNotStored("106.2")
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationDocument, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionStored).Return(nil)

	event := messageEvent("C-FINAL", "106.2", "caption for the upload, now edited")
	event.Kind = domain.EventKindEdit
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, result.Outcome)
	f.knowledge.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.knowledge.AssertNotCalled(t, "DeleteByFilter", mock.Anything, mock.Anything)
}

func TestSubmit_EditDemotesFinalChangeToNoise(t *testing.T) {
	f := newIngestFixture()
	existing := []*domain.KnowledgeItem{
		{ID: "item-1", Metadata: domain.Metadata{Source: domain.SourceFinalChanges, TimestampKey: "106.3"}},
	}
	f.knowledge.On("ListByFilter", mock.Anything, domain.ItemFilter{TimestampKey: "106.3"}).Return(existing, nil)
	f.classifier.On("Classify", mock.Anything, "nevermind, that change was reverted").Return(domain.ClassificationNoise, nil)
	f.knowledge.On("DeleteByFilter", mock.Anything, domain.ItemFilter{
		TimestampKey: "106.3", Source: domain.SourceFinalChanges,
	}).Return(int64(1), nil)

	event := messageEvent("C-FINAL", "106.3", "nevermind, that change was reverted")
	event.Kind = domain.EventKindEdit
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestDeleted, result.Outcome)
	assert.EqualValues(t, 1, result.Removed)
}

func TestSubmit_EditToEmptyTextIgnored(t *testing.T) {
	f := newIngestFixture()
	existing := []*domain.KnowledgeItem{
		{ID: "item-1", Metadata: domain.Metadata{Source: domain.SourceDocs, TimestampKey: "106.4"}},
	}
	f.knowledge.On("ListByFilter", mock.Anything, domain.ItemFilter{TimestampKey: "106.4"}).Return(existing, nil)

	event := messageEvent("C-DOCS", "106.4", "  ")
	event.Kind = domain.EventKindEdit
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, result.Outcome)
	f.knowledge.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_EditInIdeasChannelRebuildsThread(t *testing.T) {
	f := newIngestFixture()
	f.threadSrc.On("FetchThread", mock.Anything, "C-IDEAS", "107.1").Return(nil, errors.New("no session"))
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationIdea, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	f.threads.On("ListByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "107.1"}).Return([]*domain.KnowledgeItem{}, nil)
	f.threads.On("DeleteByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "107.1"}).Return(int64(1), nil)
	f.threads.On("Insert", mock.Anything, mock.Anything).Return(nil)

	event := messageEvent("C-IDEAS", "107.1", "edited: exports as scheduled jobs")
	event.Kind = domain.EventKindEdit
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestUpdated, result.Outcome)
	f.knowledge.AssertNotCalled(t, "ListByFilter", mock.Anything, mock.Anything)
}

func TestSubmit_DeletePurgesBothCollections(t *testing.T) {
	f := newIngestFixture()
	filter := domain.ItemFilter{TimestampKey: "108.1"}
	f.knowledge.On("DeleteByFilter", mock.Anything, filter).Return(int64(2), nil)
	f.threads.On("DeleteByFilter", mock.Anything, filter).Return(int64(0), nil)
	f.threads.On("DeleteByFilter", mock.Anything, domain.ItemFilter{ThreadKey: "108.0"}).Return(int64(1), nil)

	event := messageEvent("C-IDEAS", "108.1", "")
	event.Kind = domain.EventKindDelete
	event.ThreadKey = "108.0"
	result, err := f.svc.Submit(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, IngestDeleted, result.Outcome)
	assert.EqualValues(t, 3, result.Removed)
}

func TestSubmit_DeleteThenReingestSameKey(t *testing.T) {
	f := newIngestFixture()
	ts := "108.2"
	f.expectNotStored(ts)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(domain.ClassificationDocument, nil)
	f.embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)
	f.knowledge.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.knowledge.On("DeleteByFilter", mock.Anything, domain.ItemFilter{TimestampKey: ts}).Return(int64(1), nil)
	f.threads.On("DeleteByFilter", mock.Anything, domain.ItemFilter{TimestampKey: ts}).Return(int64(0), nil)
	f.ack.On("Acknowledge", mock.Anything, mock.Anything, ReactionStored).Return(nil)

	message := messageEvent("C-FINAL", ts, "shipped the new importer")
	first, err := f.svc.Submit(context.Background(), message)
	require.NoError(t, err)
	require.Equal(t, IngestAccepted, first.Outcome)

	deletion := message
	deletion.Kind = domain.EventKindDelete
	_, err = f.svc.Submit(context.Background(), deletion)
	require.NoError(t, err)

	// The dedup cache was purged: the same key ingests fresh again.
	second, err := f.svc.Submit(context.Background(), message)
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, second.Outcome)
	f.knowledge.AssertNumberOfCalls(t, "Insert", 2)
}
