// Package engine 把配置、知识库、规划、编译、执行、回答和审计拼成一条流水线。
// 每个请求按 plan → compile → execute → answer 推进，任何一步失败都带着
// 阶段标签落审计，再原样抛给调用方。
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plansql/internal/adapter"
	"plansql/internal/answer"
	"plansql/internal/audit"
	"plansql/internal/compiler"
	"plansql/internal/config"
	"plansql/internal/execute"
	"plansql/internal/kb"
	"plansql/internal/llm"
	"plansql/internal/model"
	"plansql/internal/planner"
)

// Engine 一个进程一份；KB 与规划器只读，可并发使用
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	client   llm.Client
	planner  *planner.Planner
	answer   *answer.Generator
	audit    *audit.Logger
	mockExec *execute.MockExecutor

	dbOnce sync.Once
	db     adapter.DBAdapter
	dbErr  error
}

// QueryResult 一次问答的完整输出
type QueryResult struct {
	AuditLogID       string           `json:"audit_log_id"`
	Plan             model.Plan       `json:"plan_dsl"`
	SQL              string           `json:"sql"`
	Columns          []string         `json:"columns"`
	Rows             []map[string]any `json:"rows"`
	RowCount         int              `json:"row_count"`
	Truncated        bool             `json:"truncated"`
	Warnings         []string         `json:"warnings"`
	Answer           string           `json:"answer_text"`
	EvidenceSummary  string           `json:"evidence_summary"`
	ValidationErrors []string         `json:"validation_errors"`
	ElapsedMS        int64            `json:"elapsed_ms"`
}

// New loads the four knowledge bases in parallel and wires the pipeline.
// The database connection is opened lazily on first use.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var schemaKB *kb.SchemaKB
	var joinKB *kb.JoinKB
	var metricKB *kb.MetricKB
	var templateKB *kb.TemplateKB

	var g errgroup.Group
	g.Go(func() (err error) { schemaKB, err = kb.NewSchemaKB(cfg.SchemaKBPath); return })
	g.Go(func() (err error) { joinKB, err = kb.NewJoinKB(cfg.JoinKBPath); return })
	g.Go(func() (err error) { metricKB, err = kb.NewMetricKB(cfg.MetricKBPath); return })
	g.Go(func() (err error) { templateKB, err = kb.NewTemplateKB(cfg.TemplateKBPath); return })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load knowledge bases: %w", err)
	}

	client, err := newClient(cfg, log)
	if err != nil {
		return nil, err
	}

	pl, err := planner.New(client, schemaKB, joinKB, metricKB, templateKB, planner.Options{
		Mode:                   cfg.LLMMode,
		FixedMetricID:          cfg.FixedMetricID,
		TopK:                   cfg.RAGTopK,
		TopKSecond:             cfg.RAGTopKSecond,
		TrimTopK:               cfg.TrimTopK,
		RetryOnTimeout:         cfg.RetryOnTimeout,
		BackfillEmptyRetrieval: cfg.BackfillEmptyRetrieval,
	}, log)
	if err != nil {
		return nil, err
	}

	auditLogger, err := audit.NewLogger(cfg.AuditLogPath, log)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	// 只有真实模型才做 LLM 摘要，mock / no_llm 用规则模板
	var answerClient llm.Client
	if cfg.LLMMode == config.LLMModeReal {
		answerClient = client
	}

	return &Engine{
		cfg:      cfg,
		log:      log,
		client:   client,
		planner:  pl,
		answer:   answer.NewGenerator(answerClient, log),
		audit:    auditLogger,
		mockExec: execute.NewMockExecutor(),
	}, nil
}

func newClient(cfg *config.Config, log *zap.Logger) (llm.Client, error) {
	switch cfg.LLMMode {
	case config.LLMModeReal:
		return llm.NewOpenAIClient(llm.ModelConfig{
			ModelName:   cfg.ModelName,
			Token:       cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.LLMTimeout,
			MaxRetries:  cfg.LLMMaxRetries,
			ForceJSON:   cfg.ForceJSON,
			ExtractJSON: cfg.ExtractJSON,
		}, log)
	default:
		// mock 直接离线出计划；no_llm 不会调用到这里的客户端
		return &llm.MockClient{}, nil
	}
}

// RunQuery answers one question. Every attempt, success or failure, leaves
// exactly one audit record.
func (e *Engine) RunQuery(ctx context.Context, question string, userContext map[string]any, timeRange *model.TimeRange) (*QueryResult, error) {
	if userContext == nil {
		userContext = map[string]any{}
	}
	auditID := audit.NewID()
	start := time.Now()

	fail := func(stage string, planRes *planner.Result, sqlText string, err error) error {
		rec := audit.Record{
			AuditLogID:  auditID,
			Question:    question,
			UserContext: userContext,
			SQL:         sqlText,
			ElapsedMS:   time.Since(start).Milliseconds(),
			Error:       fmt.Sprintf("[%s] %s", stage, err.Error()),
		}
		if planRes != nil {
			rec.EvidenceSummary = planRes.EvidenceSummary
			rec.PlanInitial = planRes.InitialPlan
			rec.PlanFinal = planRes.PlanMap
			rec.ValidationErrors = model.ErrorMessages(planRes.Errors)
		}
		e.audit.Write(rec)
		e.log.Warn("query failed",
			zap.String("stage", stage),
			zap.String("kind", model.KindOf(err)),
			zap.Error(err))
		return fmt.Errorf("[%s] %w", stage, err)
	}

	planRes, err := e.planner.GeneratePlan(ctx, question, userContext, timeRange)
	if err != nil {
		return nil, fail("plan", planRes, "", err)
	}

	sqlText, err := compiler.Compile(planRes.Plan, planRes.Evidence)
	if err != nil {
		return nil, fail("compile", planRes, "", err)
	}

	exec, err := e.executor(ctx)
	if err != nil {
		return nil, fail("execute", planRes, sqlText, err)
	}
	execRes, err := exec.Execute(ctx, sqlText, planRes.Plan, planRes.Evidence)
	if err != nil {
		return nil, fail("execute", planRes, sqlText, err)
	}

	answerText := e.answer.Generate(ctx, question, planRes.Plan, sqlText, planRes.Metric, execRes)

	elapsed := time.Since(start).Milliseconds()
	e.audit.Write(audit.Record{
		AuditLogID:       auditID,
		Question:         question,
		UserContext:      userContext,
		EvidenceSummary:  planRes.EvidenceSummary,
		PlanInitial:      planRes.InitialPlan,
		PlanFinal:        planRes.PlanMap,
		ValidationErrors: model.ErrorMessages(planRes.Errors),
		SQL:              sqlText,
		ElapsedMS:        elapsed,
	})
	e.log.Info("query answered",
		zap.String("metric_id", planRes.Plan.MetricID),
		zap.Int("row_count", execRes.RowCount),
		zap.Int64("elapsed_ms", elapsed))

	return &QueryResult{
		AuditLogID:       auditID,
		Plan:             planRes.Plan,
		SQL:              sqlText,
		Columns:          execRes.Columns,
		Rows:             execRes.Rows,
		RowCount:         execRes.RowCount,
		Truncated:        execRes.Truncated,
		Warnings:         execRes.Warnings,
		Answer:           answerText,
		EvidenceSummary:  planRes.EvidenceSummary,
		ValidationErrors: model.ErrorMessages(planRes.Errors),
		ElapsedMS:        elapsed,
	}, nil
}

// executor 按配置挑执行器；真库路径惰性建连，连接复用整个进程生命周期
func (e *Engine) executor(ctx context.Context) (execute.Executor, error) {
	if e.cfg.UseMockDB {
		return e.mockExec, nil
	}
	db, err := e.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	return execute.NewDBExecutor(db, execute.Options{
		PreviewRows: e.cfg.PreviewRows,
		DryRun:      e.cfg.DryRun,
		Logger:      e.log,
	}), nil
}

func (e *Engine) ensureDB(ctx context.Context) (adapter.DBAdapter, error) {
	e.dbOnce.Do(func() {
		db, err := adapter.NewAdapter(adapterConfig(e.cfg))
		if err != nil {
			e.dbErr = err
			return
		}
		if err := db.Connect(ctx); err != nil {
			e.dbErr = err
			return
		}
		e.log.Info("database connected", zap.String("driver", e.cfg.DBDriver))
		e.db = db
	})
	return e.db, e.dbErr
}

func adapterConfig(cfg *config.Config) *adapter.Config {
	return &adapter.Config{
		Driver:         cfg.DBDriver,
		Host:           cfg.MySQLHost,
		Port:           cfg.MySQLPort,
		User:           cfg.MySQLUser,
		Password:       cfg.MySQLPassword,
		Database:       cfg.MySQLDatabase,
		Charset:        cfg.MySQLCharset,
		ConnectTimeout: cfg.MySQLConnectTimeout,
		ReadTimeout:    cfg.MySQLReadTimeout,
		PostgresDSN:    cfg.PostgresDSN,
		SQLitePath:     cfg.SQLitePath,
	}
}

// CheckConnections 自检 LLM 与数据库，mock 配置直接报 "mock"
func (e *Engine) CheckConnections(ctx context.Context) map[string]string {
	out := make(map[string]string, 2)

	if e.cfg.LLMMode == config.LLMModeReal {
		if _, err := e.client.GenerateText(ctx, "ping"); err != nil {
			out["llm"] = "error: " + err.Error()
		} else {
			out["llm"] = "ok"
		}
	} else {
		out["llm"] = "mock"
	}

	if e.cfg.UseMockDB {
		out["db"] = "mock"
	} else if db, err := e.ensureDB(ctx); err != nil {
		out["db"] = "error: " + err.Error()
	} else if err := db.Ping(ctx); err != nil {
		out["db"] = "error: " + err.Error()
	} else {
		out["db"] = "ok"
	}
	return out
}

// Close releases the database connection if one was opened.
func (e *Engine) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}
