package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/timing"
	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/graph"
	"github.com/meridian-hq/atlas/backend/pkg/leaselock"
	"github.com/meridian-hq/atlas/backend/pkg/loader"
	csvloader "github.com/meridian-hq/atlas/backend/pkg/loader/csv"
	docloader "github.com/meridian-hq/atlas/backend/pkg/loader/doc"
	excelloader "github.com/meridian-hq/atlas/backend/pkg/loader/excel"
	pdfloader "github.com/meridian-hq/atlas/backend/pkg/loader/pdf"
	s3loader "github.com/meridian-hq/atlas/backend/pkg/loader/s3"
	webloader "github.com/meridian-hq/atlas/backend/pkg/loader/web"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	graphstorage "github.com/meridian-hq/atlas/backend/pkg/store/pgx"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// documentLoaders holds one loader per file format over a shared S3 base
// loader, so repeated reads of the same object hit the cache.
type documentLoaders struct {
	s3    *s3loader.S3GraphFileLoader
	pdf   *pdfloader.PDFGraphLoader
	doc   *docloader.DocGraphLoader
	csv   *csvloader.CSVGraphLoader
	excel *excelloader.ExcelGraphLoader
	html  *webloader.HTMLGraphLoader
	web   *webloader.WebGraphLoader
}

func newDocumentLoaders(s3Client *awss3.Client) *documentLoaders {
	base := s3loader.NewS3GraphFileLoaderWithClient(util.GetEnv("S3_BUCKET"), s3Client)
	return &documentLoaders{
		s3:    base,
		pdf:   pdfloader.NewPDFGraphLoader(base),
		doc:   docloader.NewDocGraphLoader(base),
		csv:   csvloader.NewCSVGraphLoader(base),
		excel: excelloader.NewExcelGraphLoader(base),
		html:  webloader.NewHTMLGraphLoader(base),
		web:   webloader.NewWebGraphLoader(),
	}
}

// buildGraphFile picks the loader for a document by its extension, or for
// URL ingests by its source URL. The GraphFile is keyed by the document's
// public id, which is what unit rows reference.
func (l *documentLoaders) buildGraphFile(document db.Document) (loader.GraphFile, error) {
	params := loader.NewGraphFileParams{
		ID:       document.PublicID,
		Name:     document.Name,
		FilePath: document.FileKey,
	}

	if document.Source == db.DocumentSourceURL {
		if document.SourceURL == nil || *document.SourceURL == "" {
			return loader.GraphFile{}, fmt.Errorf("document %d has no source url", document.ID)
		}
		params.FilePath = *document.SourceURL
		params.Loader = l.web
		return loader.NewGraphDocumentFile(params), nil
	}

	switch strings.ToLower(path.Ext(document.FileKey)) {
	case ".txt", ".md":
		params.Loader = l.s3
		return loader.NewGraphDocumentFile(params), nil
	case ".pdf":
		params.Loader = l.pdf
		return loader.NewGraphDocumentFile(params), nil
	case ".docx":
		params.Loader = l.doc
		return loader.NewGraphDocumentFile(params), nil
	case ".html":
		params.Loader = l.html
		return loader.NewGraphDocumentFile(params), nil
	case ".csv":
		params.Loader = l.csv
		return loader.NewGraphCSVFile(params), nil
	case ".xlsx":
		params.Loader = l.excel
		return loader.NewGraphCSVFile(params), nil
	default:
		return loader.GraphFile{}, fmt.Errorf("unsupported file type %q", path.Ext(document.FileKey))
	}
}

// ProcessIngestMessage runs the ingestion pipeline for one uploaded batch:
// claim the documents, chunk and extract them in parallel, stage the results
// under the batch correlation id, then merge into the live graph under the
// tenant lease and generate descriptions for the touched rows. On failure
// every claimed document is marked failed and its staged data dropped; the
// retry path resets the documents to pending before redelivery.
func ProcessIngestMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	aiClient ai.GraphAIClient,
	ch *amqp091.Channel,
	conn *pgxpool.Pool,
	msg string,
) (err error) {
	data := new(IngestMessage)
	if err = json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if data.TenantID == "" || len(data.DocumentIDs) == 0 {
		logger.Warn("[Queue] Dropping ingest message without tenant or documents")
		return nil
	}

	q := db.New(conn)
	start := time.Now()

	claimed := make([]db.Document, 0, len(data.DocumentIDs))
	for _, id := range data.DocumentIDs {
		document, claimErr := q.TryStartDocumentProcessing(ctx, data.TenantID, id)
		if claimErr != nil {
			if errors.Is(claimErr, pgx.ErrNoRows) {
				logger.Info("[Queue] Skipping document: already claimed or gone",
					"tenant", data.TenantID, "document_id", id)
				continue
			}
			return claimErr
		}
		claimed = append(claimed, document)
	}
	if len(claimed) == 0 {
		return nil
	}

	storageClient, err := graphstorage.NewGraphDBStorageWithConnection(ctx, conn, aiClient, []string{})
	if err != nil {
		return err
	}

	defer func() {
		if err == nil {
			return
		}
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i, document := range claimed {
			if updateErr := q.SetDocumentFailed(updateCtx, document.TenantID, document.ID, err.Error()); updateErr != nil {
				logger.Warn("[Queue] Failed to mark document as failed", "document_id", document.ID, "err", updateErr)
			}
			if cleanupErr := storageClient.DeleteStagedData(updateCtx, data.CorrelationID, i); cleanupErr != nil {
				logger.Warn("[Queue] Failed to delete staged data",
					"correlation_id", data.CorrelationID, "batch_id", i, "err", cleanupErr)
			}
		}
	}()

	graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{
		TokenEncoder:       util.GetEnvString("TOKEN_ENCODER", "o200k_base"),
		Strategy:           graph.ParseChunkStrategy(util.GetEnv("CHUNK_STRATEGY")),
		ParallelAiRequests: int(util.GetEnvNumeric("PARALLEL_AI_REQUESTS", 8)),
	})
	if err != nil {
		return err
	}

	prediction, predictErr := timing.PredictPipelineTime(ctx, int64(len(claimed)), conn)
	if predictErr != nil {
		prediction = 0
	}
	logger.Info("[Queue] Starting ingest batch",
		"tenant", data.TenantID, "correlation_id", data.CorrelationID,
		"source", data.Source, "documents", len(claimed), "predicted_ms", prediction)

	loaders := newDocumentLoaders(s3Client)

	parallelFiles := max(int(util.GetEnvNumeric("PARALLEL_FILES", 2)), 1)
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelFiles)
	for i, document := range claimed {
		batchID := i
		doc := document
		eg.Go(func() error {
			return ingestDocument(gCtx, q, graphClient, storageClient, aiClient, loaders, conn, data.CorrelationID, batchID, doc)
		})
	}
	if err = eg.Wait(); err != nil {
		return err
	}

	for _, document := range claimed {
		if stateErr := q.SetDocumentState(ctx, document.TenantID, document.ID, db.DocumentStateMerging); stateErr != nil {
			logger.Warn("[Queue] Failed to update document state", "document_id", document.ID, "err", stateErr)
		}
	}

	logger.Debug("[Queue] Acquiring tenant lease for merge", "tenant", data.TenantID)
	lockClient := leaselock.New(conn)
	lease, err := lockClient.Acquire(ctx, "tenant:"+data.TenantID, leaselock.Options{
		TTL:         10 * time.Minute,
		RenewEvery:  4 * time.Minute,
		Wait:        true,
		TokenPrefix: fmt.Sprintf("ingest-merge/%s/", data.TenantID),
	})
	if err != nil {
		return err
	}
	releaseLease := func() {
		if lease == nil {
			return
		}
		if releaseErr := lease.Release(context.Background()); releaseErr != nil {
			logger.Warn("[Queue] Failed to release tenant lease", "tenant", data.TenantID, "err", releaseErr)
		}
		lease = nil
	}
	defer releaseLease()

	mergeStart := time.Now()
	mergeResult, err := storageClient.MergeFromStaging(lease.Context, data.TenantID, data.CorrelationID)
	if err != nil {
		// Strip anything the failed merge left behind so the retry starts
		// from clean graph state.
		docIDs := make([]int64, 0, len(claimed))
		for _, document := range claimed {
			docIDs = append(docIDs, document.ID)
		}
		if rollbackErr := storageClient.RollbackDocumentData(ctx, data.TenantID, docIDs); rollbackErr != nil {
			logger.Warn("[Queue] Failed to roll back document data after merge failure",
				"tenant", data.TenantID, "correlation_id", data.CorrelationID, "err", rollbackErr)
		}
		return err
	}
	if timingErr := timing.AddProcessingTime(ctx, data.TenantID, timing.StatMerge, int64(len(claimed)), time.Since(mergeStart).Milliseconds(), conn); timingErr != nil {
		logger.Warn("[Queue] Failed to record merge timing", "tenant", data.TenantID, "err", timingErr)
	}

	for i := range claimed {
		if cleanupErr := storageClient.DeleteStagedData(ctx, data.CorrelationID, i); cleanupErr != nil {
			logger.Warn("[Queue] Failed to delete staged data",
				"correlation_id", data.CorrelationID, "batch_id", i, "err", cleanupErr)
		}
	}
	releaseLease()

	for _, document := range claimed {
		if stateErr := q.SetDocumentState(ctx, document.TenantID, document.ID, db.DocumentStateDescribing); stateErr != nil {
			logger.Warn("[Queue] Failed to update document state", "document_id", document.ID, "err", stateErr)
		}
	}

	// Description generation enriches the merged rows; a failure leaves the
	// raw joined descriptions in place, so it does not fail the batch.
	describeStart := time.Now()
	if descErr := storageClient.GenerateEntityDescriptions(ctx, mergeResult.EntityIDs); descErr != nil {
		logger.Error("[Queue] Failed to generate entity descriptions",
			"correlation_id", data.CorrelationID, "err", descErr)
	}
	if descErr := storageClient.GenerateRelationshipDescriptions(ctx, mergeResult.RelationshipIDs); descErr != nil {
		logger.Error("[Queue] Failed to generate relationship descriptions",
			"correlation_id", data.CorrelationID, "err", descErr)
	}
	if timingErr := timing.AddProcessingTime(ctx, data.TenantID, timing.StatDescribe, int64(len(claimed)), time.Since(describeStart).Milliseconds(), conn); timingErr != nil {
		logger.Warn("[Queue] Failed to record describe timing", "tenant", data.TenantID, "err", timingErr)
	}

	for _, document := range claimed {
		if stateErr := q.SetDocumentState(ctx, document.TenantID, document.ID, db.DocumentStateCompleted); stateErr != nil {
			logger.Warn("[Queue] Failed to update document state", "document_id", document.ID, "err", stateErr)
		}
	}

	event, _ := json.Marshal(map[string]any{
		"tenant_id":      data.TenantID,
		"correlation_id": data.CorrelationID,
		"documents":      len(claimed),
	})
	if pubErr := PublishTopic(ch, "documents.ingested", event); pubErr != nil {
		logger.Warn("[Queue] Failed to publish ingest event", "err", pubErr)
	}

	logger.Info("[Queue] Ingest batch completed",
		"tenant", data.TenantID, "correlation_id", data.CorrelationID,
		"documents", len(claimed), "units", mergeResult.UnitCount,
		"entities", len(mergeResult.EntityIDs), "relationships", len(mergeResult.RelationshipIDs),
		"duration_sec", time.Since(start).Seconds())

	return nil
}

// ingestDocument chunks, extracts, and stages a single claimed document.
// Documents with no extractable text complete immediately with an empty
// graph contribution.
func ingestDocument(
	ctx context.Context,
	q *db.Queries,
	graphClient *graph.GraphClient,
	storageClient *graphstorage.GraphDBStorage,
	aiClient ai.GraphAIClient,
	loaders *documentLoaders,
	conn *pgxpool.Pool,
	correlationID string,
	batchID int,
	document db.Document,
) error {
	file, err := loaders.buildGraphFile(document)
	if err != nil {
		return err
	}

	chunkStart := time.Now()
	units, err := graphClient.ChunkDocument(ctx, file)
	if err != nil {
		return fmt.Errorf("failed to chunk document %d: %w", document.ID, err)
	}
	if timingErr := timing.AddProcessingTime(ctx, document.TenantID, timing.StatChunk, 1, time.Since(chunkStart).Milliseconds(), conn); timingErr != nil {
		logger.Warn("[Queue] Failed to record chunk timing", "document_id", document.ID, "err", timingErr)
	}
	if len(units) == 0 {
		logger.Warn("[Queue] Document has no extractable text", "document_id", document.ID, "name", document.Name)
		if stateErr := q.SetDocumentState(ctx, document.TenantID, document.ID, db.DocumentStateCompleted); stateErr != nil {
			logger.Warn("[Queue] Failed to update document state", "document_id", document.ID, "err", stateErr)
		}
		return nil
	}

	if stateErr := q.SetDocumentState(ctx, document.TenantID, document.ID, db.DocumentStateExtracting); stateErr != nil {
		logger.Warn("[Queue] Failed to update document state", "document_id", document.ID, "err", stateErr)
	}

	extractStart := time.Now()
	documentGraph, err := graphClient.ExtractGraph(ctx, file, units, aiClient)
	if err != nil {
		return fmt.Errorf("failed to extract graph for document %d: %w", document.ID, err)
	}
	if timingErr := timing.AddProcessingTime(ctx, document.TenantID, timing.StatExtract, 1, time.Since(extractStart).Milliseconds(), conn); timingErr != nil {
		logger.Warn("[Queue] Failed to record extract timing", "document_id", document.ID, "err", timingErr)
	}

	stageStart := time.Now()
	if err := storageClient.StageUnits(ctx, correlationID, batchID, document.TenantID, documentGraph.Units); err != nil {
		return fmt.Errorf("failed to stage units for document %d: %w", document.ID, err)
	}
	if err := storageClient.StageEntities(ctx, correlationID, batchID, document.TenantID, documentGraph.Entities); err != nil {
		return fmt.Errorf("failed to stage entities for document %d: %w", document.ID, err)
	}
	if err := storageClient.StageRelationships(ctx, correlationID, batchID, document.TenantID, documentGraph.Relationships); err != nil {
		return fmt.Errorf("failed to stage relationships for document %d: %w", document.ID, err)
	}
	if timingErr := timing.AddProcessingTime(ctx, document.TenantID, timing.StatStage, 1, time.Since(stageStart).Milliseconds(), conn); timingErr != nil {
		logger.Warn("[Queue] Failed to record stage timing", "document_id", document.ID, "err", timingErr)
	}

	logger.Debug("[Queue] Document staged",
		"document_id", document.ID, "batch_id", batchID,
		"units", len(documentGraph.Units),
		"entities", len(documentGraph.Entities),
		"relationships", len(documentGraph.Relationships))

	return nil
}
