// evalplan 批量回归：读入 JSONL 用例，跑完整流水线并核对期望。
//
// 用例格式（每行一个 JSON 对象）：
//
//	{"question": "...", "start": "2024-01-01", "end": "2024-01-31",
//	 "expect_metric": "line_loss_rate", "expect_sql_prefix": "SELECT ...",
//	 "expect_error": "no_llm mode requires an explicit time_range"}
//
// 只支持 mock 与 no_llm 两种模式，保证结果可复现。
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"plansql/internal/config"
	"plansql/internal/engine"
	"plansql/internal/logging"
	"plansql/internal/model"
)

// Case 一条回归用例；expect_* 全部可选，给了才核对
type Case struct {
	Question        string `json:"question"`
	UserID          string `json:"user_id,omitempty"`
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
	ExpectError     string `json:"expect_error,omitempty"`
	ExpectSQLPrefix string `json:"expect_sql_prefix,omitempty"`
	ExpectMetric    string `json:"expect_metric,omitempty"`
}

type caseResult struct {
	Question  string `json:"question"`
	Pass      bool   `json:"pass"`
	Reason    string `json:"reason,omitempty"`
	SQL       string `json:"sql,omitempty"`
	MetricID  string `json:"metric_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

func main() {
	casesPath := flag.String("cases", "data/eval_cases.jsonl", "JSONL 用例文件")
	mode := flag.String("mode", config.LLMModeMock, "LLM 模式: mock | no_llm")
	envFile := flag.String("env", "", ".env 文件路径")
	outPath := flag.String("out", "", "逐用例结果 JSONL 输出路径")
	flag.Parse()

	if *mode != config.LLMModeMock && *mode != config.LLMModeNoLLM {
		fmt.Fprintf(os.Stderr, "invalid -mode %q (want mock or no_llm)\n", *mode)
		os.Exit(2)
	}

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
	cfg.LLMMode = *mode

	cases, err := loadCases(*casesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cases: %v\n", err)
		os.Exit(1)
	}
	if len(cases) == 0 {
		fmt.Fprintln(os.Stderr, "no cases in "+*casesPath)
		os.Exit(1)
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

	var out *os.File
	if *outPath != "" {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "out: %v\n", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	ctx := context.Background()
	passCount := 0
	var totalMS int64

	for i, c := range cases {
		fmt.Printf("[%d/%d] %s\n", i+1, len(cases), c.Question)
		cr := runCase(ctx, eng, c)
		totalMS += cr.ElapsedMS
		if cr.Pass {
			passCount++
			fmt.Printf("  PASS (%d ms)\n", cr.ElapsedMS)
		} else {
			fmt.Printf("  FAIL: %s\n", cr.Reason)
		}
		if out != nil {
			line, _ := json.Marshal(cr)
			fmt.Fprintln(out, string(line))
		}
	}

	failCount := len(cases) - passCount
	line := strings.Repeat("━", 52)
	fmt.Println()
	fmt.Println(line)
	fmt.Println("回归结果")
	fmt.Println(line)
	fmt.Printf("Mode: %s\n", cfg.LLMMode)
	fmt.Printf("Total: %d\n", len(cases))
	fmt.Printf("Pass: %d (%.1f%%)\n", passCount, float64(passCount)/float64(len(cases))*100)
	fmt.Printf("Fail: %d\n", failCount)
	fmt.Printf("Avg Time: %d ms\n", totalMS/int64(len(cases)))

	if failCount > 0 {
		os.Exit(1)
	}
}

func runCase(ctx context.Context, eng *engine.Engine, c Case) caseResult {
	var timeRange *model.TimeRange
	if c.Start != "" && c.End != "" {
		timeRange = &model.TimeRange{Start: c.Start, End: c.End}
	}
	userContext := map[string]any{"source": "evalplan"}
	if c.UserID != "" {
		userContext["user_id"] = c.UserID
	}

	began := time.Now()
	res, err := eng.RunQuery(ctx, c.Question, userContext, timeRange)
	cr := caseResult{Question: c.Question, ElapsedMS: time.Since(began).Milliseconds()}

	if err != nil {
		cr.Error = err.Error()
		if c.ExpectError == "" {
			cr.Reason = "unexpected error: " + err.Error()
			return cr
		}
		if !strings.Contains(err.Error(), c.ExpectError) {
			cr.Reason = fmt.Sprintf("error %q does not contain %q", err.Error(), c.ExpectError)
			return cr
		}
		cr.Pass = true
		return cr
	}

	cr.SQL = res.SQL
	cr.MetricID = res.Plan.MetricID
	if c.ExpectError != "" {
		cr.Reason = fmt.Sprintf("expected error containing %q, got success", c.ExpectError)
		return cr
	}
	if c.ExpectMetric != "" && res.Plan.MetricID != c.ExpectMetric {
		cr.Reason = fmt.Sprintf("metric %s, want %s", res.Plan.MetricID, c.ExpectMetric)
		return cr
	}
	if c.ExpectSQLPrefix != "" && !strings.HasPrefix(res.SQL, c.ExpectSQLPrefix) {
		cr.Reason = fmt.Sprintf("sql %q does not start with %q", res.SQL, c.ExpectSQLPrefix)
		return cr
	}
	cr.Pass = true
	return cr
}

func loadCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cases []Case
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "//") {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if c.Question == "" {
			return nil, fmt.Errorf("line %d: question is required", lineNo)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}
