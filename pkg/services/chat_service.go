package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/adapters/datasource"
	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/contextmgr"
	"github.com/datachat-io/datachat-engine/pkg/llm"
	"github.com/datachat-io/datachat-engine/pkg/logging"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/prompts"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
	"github.com/datachat-io/datachat-engine/pkg/sqlerrors"
	"github.com/datachat-io/datachat-engine/pkg/sqlguard"
)

// maxSelectedTables bounds how many tables the generation prompt carries.
const maxSelectedTables = 10

// analysisResultRows bounds how many result rows the analysis prompt sees.
const analysisResultRows = 20

// QueryRequest is one natural-language question through the pipeline.
type QueryRequest struct {
	// SessionID continues an existing conversation; nil starts a new one.
	SessionID    *uuid.UUID
	DatasourceID uuid.UUID
	UserID       string
	Question     string
}

// QueryResponse is the outcome of a successful pipeline run.
type QueryResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	SQL       string    `json:"sql"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	RowCount  int       `json:"row_count"`
	Analysis  string    `json:"analysis,omitempty"`
	Attempts  int       `json:"attempts"`
	Status    string    `json:"status"`
}

// PipelineError is a query failure the recovery loop could not repair. It
// carries the canned user-facing message for the handler.
type PipelineError struct {
	Class       sqlerrors.Class
	UserMessage string
	Attempts    int
	Err         error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("query failed after %d attempt(s) [%s]: %v", e.Attempts, e.Class, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ChatConfig bounds the pipeline.
type ChatConfig struct {
	MaxFixAttempts int
	QueryTimeout   time.Duration
	MaxResultRows  int
}

// ChatService runs the question→SQL→result→analysis pipeline.
type ChatService interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

// ErrorLearner records classified SQL failures and recovery-hint outcomes.
type ErrorLearner interface {
	RecordError(c *sqlerrors.Classification)
	RecordOutcome(c *sqlerrors.Classification, hint string, success bool)
	BestHint(c *sqlerrors.Classification) (string, bool)
}

var _ ErrorLearner = (*sqlerrors.LearningStore)(nil)

type chatService struct {
	cfg          ChatConfig
	datasources  DatasourceService
	tables       repositories.TableRepository
	sessions     repositories.SessionRepository
	history      repositories.QueryHistoryRepository
	knowledge    KnowledgeService
	fewShots     FewShotService
	dictionaries DictionaryService
	templates    PromptTemplateService
	client       llm.Client
	contexts     *contextmgr.Manager
	learning     ErrorLearner
	logger       *zap.Logger
}

// NewChatService creates the chat pipeline service.
func NewChatService(
	cfg ChatConfig,
	datasources DatasourceService,
	tables repositories.TableRepository,
	sessions repositories.SessionRepository,
	history repositories.QueryHistoryRepository,
	knowledge KnowledgeService,
	fewShots FewShotService,
	dictionaries DictionaryService,
	templates PromptTemplateService,
	client llm.Client,
	contexts *contextmgr.Manager,
	learning ErrorLearner,
	logger *zap.Logger,
) ChatService {
	if cfg.MaxFixAttempts < 0 {
		cfg.MaxFixAttempts = 0
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	return &chatService{
		cfg:          cfg,
		datasources:  datasources,
		tables:       tables,
		sessions:     sessions,
		history:      history,
		knowledge:    knowledge,
		fewShots:     fewShots,
		dictionaries: dictionaries,
		templates:    templates,
		client:       client,
		contexts:     contexts,
		learning:     learning,
		logger:       logger.Named("chat_service"),
	}
}

var _ ChatService = (*chatService)(nil)

func (s *chatService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("question is required: %w", apperrors.ErrValidation)
	}
	if hits := sqlguard.CheckAllValues(map[string]any{"question": req.Question}); len(hits) > 0 {
		s.logger.Warn("question rejected by injection screen",
			zap.String("fingerprint", hits[0].Fingerprint))
		return nil, fmt.Errorf("question contains a SQL injection pattern: %w", apperrors.ErrValidation)
	}

	session, err := s.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	conn, ds, err := s.datasources.Connect(ctx, session.DatasourceID)
	if err != nil {
		return nil, err
	}

	pc, err := s.buildPromptContext(ctx, session, ds, req.Question)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, runErr := s.run(ctx, session, conn, pc)
	latency := time.Since(start)

	s.recordHistory(ctx, session, pc, resp, runErr, latency)
	s.templates.RecordOutcome(ctx, pc.versionID, runErr == nil, latency)

	if runErr != nil {
		return nil, runErr
	}

	s.remember(session, pc.question, resp)
	return resp, nil
}

func (s *chatService) resolveSession(ctx context.Context, req QueryRequest) (*models.DialogueSession, error) {
	if req.SessionID != nil {
		return s.sessions.GetByID(ctx, *req.SessionID)
	}
	if req.DatasourceID == uuid.Nil {
		return nil, fmt.Errorf("datasource_id is required for a new session: %w", apperrors.ErrValidation)
	}
	session := &models.DialogueSession{DatasourceID: req.DatasourceID, UserID: req.UserID}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// promptContext carries everything the generation and fix prompts need.
type promptContext struct {
	question    string
	dialect     string
	schema      string
	knowledge   string
	fewShots    string
	history     []llm.Message
	genTemplate string
	fixTemplate string
	versionID   *uuid.UUID
	identifiers []string
}

func (s *chatService) buildPromptContext(ctx context.Context, session *models.DialogueSession, ds *models.Datasource, question string) (*promptContext, error) {
	allTables, err := s.tables.ListWithFields(ctx, session.DatasourceID)
	if err != nil {
		return nil, err
	}
	if len(allTables) == 0 {
		return nil, fmt.Errorf("datasource has no synced tables: %w", apperrors.ErrValidation)
	}
	selected := selectTables(question, allTables, maxSelectedTables)

	relations, err := s.tables.ListRelations(ctx, session.DatasourceID)
	if err != nil {
		return nil, err
	}

	var fieldIDs []uuid.UUID
	for _, t := range selected {
		for _, f := range t.Fields {
			fieldIDs = append(fieldIDs, f.ID)
		}
	}
	dicts, err := s.dictionaries.ForFields(ctx, fieldIDs)
	if err != nil {
		return nil, err
	}

	items, err := s.knowledge.SelectRelevant(ctx, question, time.Now())
	if err != nil {
		return nil, err
	}
	samples, err := s.fewShots.SelectRelevant(ctx, session.DatasourceID, question)
	if err != nil {
		return nil, err
	}

	genTemplate, versionID, err := s.templates.Resolve(ctx, models.TemplatePurposeSQLGeneration, session.ID)
	if err != nil {
		return nil, err
	}
	fixTemplate, _, err := s.templates.Resolve(ctx, models.TemplatePurposeSQLFix, session.ID)
	if err != nil {
		return nil, err
	}

	knowledgeBlock := s.knowledge.RenderBlock(items)
	if dictBlock := s.dictionaries.RenderBlock(dicts); dictBlock != "" {
		if knowledgeBlock != "" {
			knowledgeBlock += "\n"
		}
		knowledgeBlock += dictBlock
	}

	var history []llm.Message
	for _, msg := range s.contexts.CloudMessages(session.ID.String()) {
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
	}

	return &promptContext{
		question:    question,
		dialect:     datasource.Dialect(ds.DatasourceType),
		schema:      renderSchema(selected, relations),
		knowledge:   knowledgeBlock,
		fewShots:    s.fewShots.RenderBlock(samples),
		history:     history,
		genTemplate: genTemplate,
		fixTemplate: fixTemplate,
		versionID:   versionID,
		identifiers: collectIdentifiers(selected),
	}, nil
}

// run executes the generate→validate→execute loop with bounded recovery.
func (s *chatService) run(ctx context.Context, session *models.DialogueSession, conn datasource.Connector, pc *promptContext) (*QueryResponse, error) {
	prompt := prompts.RenderSQLGeneration(pc.genTemplate, prompts.SQLGenerationVars{
		Dialect:   pc.dialect,
		Schema:    pc.schema,
		Knowledge: pc.knowledge,
		FewShots:  pc.fewShots,
		Question:  pc.question,
	})

	maxAttempts := s.cfg.MaxFixAttempts + 1
	var (
		lastSQL  string
		lastCls  *sqlerrors.Classification
		usedHint string
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		completion, err := s.client.Complete(ctx, llm.CompletionRequest{
			History: pc.history,
			User:    prompt,
		})
		if err != nil {
			return nil, &PipelineError{
				Class:       sqlerrors.ClassUnknown,
				UserMessage: "The language model is unavailable. Try again shortly.",
				Attempts:    attempt,
				Err:         err,
			}
		}

		sqlText := prompts.ExtractSQL(completion.Content)
		validation := sqlguard.ValidateAndNormalize(sqlText)
		if validation.Error != nil {
			// The hint is charged against the classification it was
			// issued for, before that classification is replaced.
			if usedHint != "" && lastCls != nil {
				s.learning.RecordOutcome(lastCls, usedHint, false)
				usedHint = ""
			}
			lastSQL = sqlText
			lastCls = &sqlerrors.Classification{
				Class:       sqlerrors.ClassSyntax,
				Detail:      validation.Error.Error(),
				Recoverable: true,
				Suggestion:  "Emit exactly one read-only SELECT statement with no trailing commentary.",
				UserMessage: "The generated SQL was not a single read-only SELECT statement.",
			}
			s.logger.Warn("generated SQL rejected by validator",
				zap.Int("attempt", attempt),
				zap.String("reason", validation.Error.Error()))
			if attempt == maxAttempts {
				return nil, &PipelineError{
					Class:       lastCls.Class,
					UserMessage: lastCls.UserMessage,
					Attempts:    attempt,
					Err:         validation.Error,
				}
			}
			prompt, usedHint = s.fixPrompt(pc, sqlText, validation.Error.Error(), lastCls)
			continue
		}
		lastSQL = validation.NormalizedSQL

		result, execErr := s.execute(ctx, conn, validation.NormalizedSQL)
		if execErr == nil {
			if usedHint != "" && lastCls != nil {
				s.learning.RecordOutcome(lastCls, usedHint, true)
			}
			status := models.QueryStatusSucceeded
			if attempt > 1 {
				status = models.QueryStatusRecovered
			}
			return &QueryResponse{
				SessionID: session.ID,
				SQL:       validation.NormalizedSQL,
				Columns:   result.Columns,
				Rows:      result.Rows,
				RowCount:  result.RowCount,
				Analysis:  s.analyze(ctx, session, pc, validation.NormalizedSQL, result),
				Attempts:  attempt,
				Status:    status,
			}, nil
		}

		cls := sqlerrors.Classify(execErr)
		s.learning.RecordError(cls)
		if usedHint != "" && lastCls != nil {
			s.learning.RecordOutcome(lastCls, usedHint, false)
			usedHint = ""
		}
		s.logger.Warn("generated SQL failed",
			zap.Int("attempt", attempt),
			zap.String("class", string(cls.Class)),
			zap.String("error", logging.SanitizeError(execErr)))

		if !cls.Recoverable || attempt == maxAttempts {
			return nil, &PipelineError{
				Class:       cls.Class,
				UserMessage: cls.UserMessage,
				Attempts:    attempt,
				Err:         execErr,
			}
		}

		lastCls = cls
		prompt, usedHint = s.fixPrompt(pc, validation.NormalizedSQL, cls.Detail, cls)
	}

	// Loop always returns from inside; guard against MaxFixAttempts
	// misconfiguration.
	return nil, &PipelineError{
		Class:       sqlerrors.ClassUnknown,
		UserMessage: "The query failed for an unexpected reason.",
		Attempts:    maxAttempts,
		Err:         fmt.Errorf("recovery loop exhausted without result; last sql: %s", lastSQL),
	}
}

// fixPrompt renders the repair prompt, combining the classifier suggestion,
// any learned hint for this error signature, and near-miss identifier
// candidates.
func (s *chatService) fixPrompt(pc *promptContext, failedSQL, detail string, cls *sqlerrors.Classification) (string, string) {
	hint := cls.Suggestion
	if learned, ok := s.learning.BestHint(cls); ok {
		hint += " " + learned
	}
	if cls.Identifier != "" {
		if matches := sqlerrors.SuggestIdentifiers(cls.Identifier, pc.identifiers, 3); len(matches) > 0 {
			hint += " Did you mean:"
			for _, m := range matches {
				hint += " " + m.Name
			}
			hint += "?"
		}
	}

	return prompts.RenderSQLFix(pc.fixTemplate, prompts.SQLFixVars{
		Dialect:  pc.dialect,
		Schema:   pc.schema,
		Question: pc.question,
		SQL:      failedSQL,
		Error:    detail,
		Hint:     hint,
	}), hint
}

func (s *chatService) execute(ctx context.Context, conn datasource.Connector, sqlText string) (*datasource.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return conn.ExecuteQuery(ctx, sqlText, s.cfg.MaxResultRows)
}

// analyze produces the natural-language summary. Best effort: a failed
// analysis call degrades to returning the raw result without commentary.
func (s *chatService) analyze(ctx context.Context, session *models.DialogueSession, pc *promptContext, sqlText string, result *datasource.QueryResult) string {
	template, _, err := s.templates.Resolve(ctx, models.TemplatePurposeAnalysis, session.ID)
	if err != nil || template == "" {
		template = prompts.DefaultAnalysisTemplate
	}

	prompt := prompts.RenderAnalysis(template, prompts.AnalysisVars{
		Question: pc.question,
		SQL:      sqlText,
		Result:   prompts.FormatResultTable(result.Columns, result.Rows, analysisResultRows),
	})

	completion, err := s.client.Complete(ctx, llm.CompletionRequest{User: prompt})
	if err != nil {
		s.logger.Warn("analysis generation failed", zap.Error(err))
		return ""
	}
	return completion.Content
}

// remember persists the completed turn: dual-tier context, session touch,
// all best effort after the response is already built.
func (s *chatService) remember(session *models.DialogueSession, question string, resp *QueryResponse) {
	s.contexts.AddTurn(session.ID.String(), contextmgr.Turn{
		Question: question,
		SQL:      resp.SQL,
		Columns:  resp.Columns,
		Rows:     resp.Rows,
		Analysis: resp.Analysis,
	})

	title := question
	if r := []rune(title); len(r) > 80 {
		title = string(r[:80])
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.Touch(ctx, session.ID, title); err != nil {
		s.logger.Warn("failed to touch session", zap.Error(err))
	}
}

func (s *chatService) recordHistory(ctx context.Context, session *models.DialogueSession, pc *promptContext, resp *QueryResponse, runErr error, latency time.Duration) {
	h := &models.QueryHistory{
		SessionID:         session.ID,
		DatasourceID:      session.DatasourceID,
		Question:          pc.question,
		DurationMs:        latency.Milliseconds(),
		TemplateVersionID: pc.versionID,
	}
	if resp != nil {
		h.GeneratedSQL = resp.SQL
		h.Status = resp.Status
		h.Attempts = resp.Attempts
		h.RowCount = resp.RowCount
	} else {
		h.Status = models.QueryStatusFailed
		var pe *PipelineError
		if errors.As(runErr, &pe) {
			h.ErrorClass = string(pe.Class)
			h.ErrorDetail = logging.TruncateString(pe.Err.Error(), 500)
			h.Attempts = pe.Attempts
		} else {
			h.ErrorDetail = logging.TruncateString(runErr.Error(), 500)
		}
	}
	if err := s.history.Insert(ctx, h); err != nil {
		s.logger.Warn("failed to record query history", zap.Error(err))
	}
}
