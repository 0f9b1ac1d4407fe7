// genkb 生成与巡检四份知识库目录。
//
//	genkb -seed                 写入内置电力域示例目录
//	genkb -ddl schema.sql       从 DDL 生成 schema/join 目录底稿
//	genkb -db                   自省数据库生成目录底稿（连接信息取自 .env）
//	genkb -verify               加载四份目录并做一致性巡检
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"plansql/internal/adapter"
	"plansql/internal/config"
	"plansql/internal/kb"
	"plansql/internal/model"
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
)

func subHeader(title string) {
	fmt.Printf("\n%s── %s ──%s\n\n", yellow+bold, title, reset)
}

func info(label, value string) {
	fmt.Printf("  %s%-20s%s %s\n", dim, label, reset, value)
}

func success(msg string) {
	fmt.Printf("  %s✓%s %s\n", green, reset, msg)
}

func warn(msg string) {
	fmt.Printf("  %s⚠%s %s\n", yellow, reset, msg)
}

func fail(msg string) {
	fmt.Printf("  %s✗%s %s\n", red, reset, msg)
}

func main() {
	seed := flag.Bool("seed", false, "写入内置电力域示例目录")
	ddlPath := flag.String("ddl", "", "从 schema.sql 生成目录底稿")
	fromDB := flag.Bool("db", false, "自省数据库生成目录底稿")
	verify := flag.Bool("verify", false, "加载四份目录并做一致性巡检")
	withMetrics := flag.Bool("metrics", false, "生成底稿时一并生成 SUM 指标骨架与意图模板")
	outDir := flag.String("out", "data", "目录输出路径")
	mermaidPath := flag.String("mermaid", "", "额外输出 Mermaid ER 图到指定文件")
	envFile := flag.String("env", "", ".env 文件路径")
	flag.Parse()

	modes := 0
	for _, on := range []bool{*seed, *ddlPath != "", *fromDB, *verify} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "pick exactly one of -seed, -ddl, -db, -verify")
		flag.Usage()
		os.Exit(2)
	}

	switch {
	case *seed:
		runSeed(*outDir, *mermaidPath)
	case *ddlPath != "":
		runDDL(*ddlPath, *outDir, *withMetrics, *mermaidPath)
	case *fromDB:
		runDB(*envFile, *outDir, *withMetrics, *mermaidPath)
	default:
		runVerify(*envFile, *mermaidPath)
	}
}

func runSeed(outDir, mermaidPath string) {
	subHeader("内置示例目录")
	entities := kb.SeedSchema()
	joins := kb.SeedJoins()
	writeOrDie(filepath.Join(outDir, "schema_kb.json"), entities)
	writeOrDie(filepath.Join(outDir, "join_kb.json"), joins)
	writeOrDie(filepath.Join(outDir, "metric_kb.json"), kb.SeedMetrics())
	writeOrDie(filepath.Join(outDir, "template_kb.json"), kb.SeedTemplates())
	writeMermaid(mermaidPath, entities, joins)
}

func runDDL(path, outDir string, withMetrics bool, mermaidPath string) {
	subHeader("DDL 生成目录底稿")
	cat, err := kb.ParseDDL(path)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	reportCatalog(cat)
	writeCatalogues(cat, outDir, withMetrics, mermaidPath)
}

func runDB(envFile, outDir string, withMetrics bool, mermaidPath string) {
	cfg := loadConfig(envFile)
	subHeader("数据库自省")

	db, err := adapter.NewAdapter(adapterConfig(cfg))
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	ctx := context.Background()
	if err := db.Connect(ctx); err != nil {
		fail("connect: " + err.Error())
		os.Exit(1)
	}
	defer db.Close()

	info("Driver:", db.DatabaseType())
	if v, err := db.Version(ctx); err == nil {
		info("Version:", v)
	}

	cat, err := db.Introspect(ctx)
	if err != nil {
		fail("introspect: " + err.Error())
		os.Exit(1)
	}
	reportCatalog(cat)
	writeCatalogues(cat, outDir, withMetrics, mermaidPath)
}

func runVerify(envFile, mermaidPath string) {
	cfg := loadConfig(envFile)
	subHeader("目录巡检")

	schema, err := kb.NewSchemaKB(cfg.SchemaKBPath)
	if err != nil {
		fail("schema: " + err.Error())
		os.Exit(1)
	}
	joins, err := kb.NewJoinKB(cfg.JoinKBPath)
	if err != nil {
		fail("join: " + err.Error())
		os.Exit(1)
	}
	metrics, err := kb.NewMetricKB(cfg.MetricKBPath)
	if err != nil {
		fail("metric: " + err.Error())
		os.Exit(1)
	}
	templates, err := kb.NewTemplateKB(cfg.TemplateKBPath)
	if err != nil {
		fail("template: " + err.Error())
		os.Exit(1)
	}

	info("Schema entities:", strconv.Itoa(len(schema.All())))
	info("Join paths:", strconv.Itoa(len(joins.All())))
	info("Metrics:", strconv.Itoa(len(metrics.All())))
	info("Templates:", strconv.Itoa(len(templates.All())))

	components := joins.Components()
	for _, comp := range components {
		info("Component:", strings.Join(comp, ", "))
	}
	if len(components) > 1 {
		warn(fmt.Sprintf("连接图有 %d 个连通分量，跨分量的表无法联查", len(components)))
	}
	writeMermaid(mermaidPath, schema.All(), joins.All())

	problems := kb.Lint(schema, joins, metrics, templates)
	if len(problems) == 0 {
		success("四份目录一致")
		return
	}
	for _, p := range problems {
		fail(p)
	}
	os.Exit(1)
}

func reportCatalog(cat *adapter.Catalog) {
	tables := make(map[string]bool)
	for _, col := range cat.Columns {
		tables[col.Table] = true
	}
	info("Tables:", strconv.Itoa(len(tables)))
	info("Columns:", strconv.Itoa(len(cat.Columns)))
	info("Foreign keys:", strconv.Itoa(len(cat.ForeignKeys)))
}

func writeCatalogues(cat *adapter.Catalog, outDir string, withMetrics bool, mermaidPath string) {
	items := kb.BuildSchemaCatalogue(cat)
	joins := kb.BuildJoinCatalogue(cat)
	writeOrDie(filepath.Join(outDir, "schema_kb.json"), items)
	writeOrDie(filepath.Join(outDir, "join_kb.json"), joins)
	writeMermaid(mermaidPath, items, joins)
	if !withMetrics {
		warn("metric_kb.json 与 template_kb.json 未更新，加 -metrics 生成骨架")
		return
	}
	writeOrDie(filepath.Join(outDir, "metric_kb.json"), kb.BuildMetricCatalogue(items))
	writeOrDie(filepath.Join(outDir, "template_kb.json"), kb.BuiltinTemplates())
}

func writeMermaid(path string, entities []model.SchemaEntity, joins []model.JoinPath) {
	if path == "" {
		return
	}
	if err := os.WriteFile(path, []byte(kb.MermaidER(entities, joins)), 0o644); err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	success("Updated: " + path)
}

func writeOrDie(path string, items any) {
	if err := kb.WriteCatalogue(path, items); err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	success("Updated: " + path)
}

func loadConfig(envFile string) *config.Config {
	var cfg *config.Config
	var err error
	if envFile != "" {
		cfg, err = config.Load(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
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
