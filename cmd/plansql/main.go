package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"plansql/internal/config"
	"plansql/internal/engine"
	"plansql/internal/logging"
	"plansql/internal/model"
)

// ─────────────────────────────────────────────────────
// ANSI color helpers
// ─────────────────────────────────────────────────────

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
)

func header(title string) {
	line := strings.Repeat("━", 60)
	fmt.Printf("\n%s%s%s\n", cyan+bold, line, reset)
	fmt.Printf("%s  %s%s\n", cyan+bold, title, reset)
	fmt.Printf("%s%s%s\n\n", cyan+bold, line, reset)
}

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

func codeBlock(title, content string) {
	fmt.Printf("\n%s┌─ %s%s\n", blue, title, reset)
	for _, line := range strings.Split(content, "\n") {
		fmt.Printf("%s│%s %s\n", blue, reset, line)
	}
	fmt.Printf("%s└─%s\n", blue, reset)
}

// ─────────────────────────────────────────────────────
// Main
// ─────────────────────────────────────────────────────

func main() {
	question := flag.String("q", "", "自然语言问题")
	userID := flag.String("user", "", "用户标识，写入审计日志")
	start := flag.String("start", "", "时间范围起点 YYYY-MM-DD")
	end := flag.String("end", "", "时间范围终点 YYYY-MM-DD")
	mode := flag.String("mode", "", "覆盖 LLM 模式: mock | no_llm | real")
	envFile := flag.String("env", "", ".env 文件路径")
	jsonOut := flag.Bool("json", false, "以 JSON 输出完整结果")
	check := flag.Bool("check", false, "只做连接自检")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *envFile != "" {
		cfg, err = config.Load(*envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		switch *mode {
		case config.LLMModeMock, config.LLMModeNoLLM, config.LLMModeReal:
			cfg.LLMMode = *mode
		default:
			fmt.Fprintf(os.Stderr, "invalid -mode %q (want mock, no_llm or real)\n", *mode)
			os.Exit(2)
		}
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	eng, err := engine.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx := context.Background()

	if *check {
		code := runCheck(ctx, eng, *jsonOut)
		_ = eng.Close()
		os.Exit(code)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Fprintln(os.Stderr, "missing -q question")
		flag.Usage()
		os.Exit(2)
	}

	var timeRange *model.TimeRange
	if *start != "" && *end != "" {
		timeRange = &model.TimeRange{Start: *start, End: *end}
	}
	userContext := map[string]any{}
	if *userID != "" {
		userContext["user_id"] = *userID
	}

	res, err := eng.RunQuery(ctx, *question, userContext, timeRange)
	if err != nil {
		if *jsonOut {
			out, _ := json.Marshal(map[string]any{"error": err.Error()})
			fmt.Println(string(out))
		} else {
			header("Text2SQL 查询")
			info("Question:", *question)
			fail(err.Error())
		}
		os.Exit(1)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		return
	}

	header("Text2SQL 查询")
	info("Question:", *question)
	info("Mode:", cfg.LLMMode)
	if timeRange != nil {
		info("Time range:", timeRange.Start+" ~ "+timeRange.End)
	}

	planJSON, _ := json.MarshalIndent(res.Plan, "", "  ")
	codeBlock("Plan DSL", string(planJSON))
	codeBlock("SQL", res.SQL)

	subHeader("结果预览")
	if len(res.Rows) == 0 {
		warn("无数据")
	} else {
		codeBlock(fmt.Sprintf("%d 行", res.RowCount), renderPreview(res.Columns, res.Rows))
		if res.Truncated {
			warn(fmt.Sprintf("预览截断为前 %d 行", len(res.Rows)))
		}
	}
	for _, w := range res.Warnings {
		warn(w)
	}

	subHeader("回答")
	fmt.Printf("  %s\n", res.Answer)

	fmt.Println()
	success(fmt.Sprintf("耗时 %d ms", res.ElapsedMS))
	info("Audit ID:", res.AuditLogID)
}

func runCheck(ctx context.Context, eng *engine.Engine, jsonOut bool) int {
	status := eng.CheckConnections(ctx)
	code := 0
	for _, v := range status {
		if strings.HasPrefix(v, "error") {
			code = 1
		}
	}

	if jsonOut {
		out, _ := json.Marshal(status)
		fmt.Println(string(out))
		return code
	}

	subHeader("连接自检")
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := status[k]
		if strings.HasPrefix(v, "error") {
			fail(k + ": " + v)
		} else {
			success(k + ": " + v)
		}
	}
	return code
}

// renderPreview 简单等宽表格，值太长截断
func renderPreview(columns []string, rows []map[string]any) string {
	const maxCell = 32
	cell := func(v any) string {
		if v == nil {
			return "NULL"
		}
		s := fmt.Sprintf("%v", v)
		if r := []rune(s); len(r) > maxCell {
			s = string(r[:maxCell-3]) + "..."
		}
		return s
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	rendered := make([][]string, len(rows))
	for r, row := range rows {
		rendered[r] = make([]string, len(columns))
		for i, c := range columns {
			s := cell(row[c])
			rendered[r][i] = s
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}

	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, "%-*s", widths[i], c)
	}
	b.WriteString("\n")
	for i := range columns {
		if i > 0 {
			b.WriteString("-+-")
		}
		b.WriteString(strings.Repeat("-", widths[i]))
	}
	for _, row := range rendered {
		b.WriteString("\n")
		for i, s := range row {
			if i > 0 {
				b.WriteString(" | ")
			}
			fmt.Fprintf(&b, "%-*s", widths[i], s)
		}
	}
	return b.String()
}
