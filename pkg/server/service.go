package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/research-reporter/pkg/export"
	"github.com/mikeboe/research-reporter/pkg/pipeline"
	"github.com/mikeboe/research-reporter/pkg/store"
	"github.com/mikeboe/research-reporter/pkg/stream"
)

const backgroundMessage = "Your report is being generated in the background. Please check back later."

// Runner executes the report pipeline for one task.
type Runner interface {
	Run(ctx context.Context, task pipeline.Task, progress stream.Sink) (*pipeline.State, error)
}

// TaskDefaults are applied to every task built from a request.
type TaskDefaults struct {
	Model            string
	Guidelines       string
	FollowGuidelines bool
	Verbose          bool
}

// ReportRequest is one report submission.
type ReportRequest struct {
	Task                 string            `json:"task"`
	ReportType           string            `json:"report_type"`
	ReportSource         string            `json:"report_source"`
	Tone                 string            `json:"tone"`
	Headers              *pipeline.Headers `json:"headers,omitempty"`
	Language             string            `json:"language,omitempty"`
	GenerateInBackground bool              `json:"generate_in_background"`
}

// GenerateResult carries the bundle of a foreground run, or only the id and
// an acknowledgement for a background one.
type GenerateResult struct {
	ResearchID string        `json:"research_id"`
	Message    string        `json:"message,omitempty"`
	Bundle     *store.Bundle `json:"-"`
}

type SummaryRequest struct {
	Name            string `json:"name"`
	Author          string `json:"author"`
	PublicationDate string `json:"publication_date"`
}

type SummaryResult struct {
	SummaryChinese    string `json:"summary_chinese"`
	ResearchIDChinese string `json:"research_id_chinese"`
	PDFURLChinese     string `json:"pdf_url_chinese"`
	SummaryEnglish    string `json:"summary_english"`
	ResearchIDEnglish string `json:"research_id_english"`
	PDFURLEnglish     string `json:"pdf_url_english"`
}

// Service coordinates report requests: it assigns research ids, runs the
// pipeline inline or detached, and records results in the store.
type Service struct {
	Runner   Runner
	Store    store.Store
	Exporter export.Exporter
	Defaults TaskDefaults
	BaseURL  string
	Logger   *slog.Logger

	Now func() time.Time

	mu        sync.Mutex
	lastStamp int64
	wg        sync.WaitGroup
}

func NewService(runner Runner, st store.Store, exporter export.Exporter, baseURL string) *Service {
	return &Service{
		Runner:   runner,
		Store:    st,
		Exporter: exporter,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Logger:   slog.Default(),
		Now:      time.Now,
	}
}

var (
	unsafeFilenameRe = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

const maxIDTextRunes = 100

// SanitizeFilename drops characters that are unsafe in a storage key and
// joins words with underscores.
func SanitizeFilename(name string) string {
	name = unsafeFilenameRe.ReplaceAllString(name, "")
	name = whitespaceRe.ReplaceAllString(strings.TrimSpace(name), "_")
	if runes := []rune(name); len(runes) > maxIDTextRunes {
		name = string(runes[:maxIDTextRunes])
	}
	return name
}

// ResearchID derives an identifier from a prefix, a submission time in
// milliseconds and the sanitized text.
func ResearchID(prefix string, t time.Time, text string) string {
	return SanitizeFilename(prefix + "_" + strconv.FormatInt(t.UnixMilli(), 10) + "_" + text)
}

// stamp returns a submission time strictly later than the previous one, so
// identical texts submitted in the same millisecond still get distinct ids.
func (s *Service) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.Now().UnixMilli()
	if ms <= s.lastStamp {
		ms = s.lastStamp + 1
	}
	s.lastStamp = ms
	return time.UnixMilli(ms)
}

func (s *Service) buildTask(researchID string, req ReportRequest) pipeline.Task {
	return pipeline.Task{
		ResearchID:       researchID,
		Query:            req.Task,
		Model:            s.Defaults.Model,
		ReportType:       req.ReportType,
		ReportSource:     req.ReportSource,
		Tone:             req.Tone,
		Language:         req.Language,
		Guidelines:       s.Defaults.Guidelines,
		FollowGuidelines: s.Defaults.FollowGuidelines,
		Verbose:          s.Defaults.Verbose,
		HeaderOverrides:  req.Headers,
	}
}

// Generate submits one report. A background request returns as soon as the
// run is scheduled; otherwise the call returns the finished bundle.
func (s *Service) Generate(ctx context.Context, req ReportRequest, progress stream.Sink) (*GenerateResult, error) {
	researchID := ResearchID("task", s.stamp(), req.Task)
	task := s.buildTask(researchID, req)
	if err := task.Validate(); err != nil {
		return nil, err
	}

	if err := s.Store.Create(ctx, researchID); err != nil {
		return nil, fmt.Errorf("failed to register report: %w", err)
	}

	if req.GenerateInBackground {
		runCtx := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// The outcome is recorded in the store.
			_, _ = s.run(runCtx, task, progress)
		}()
		return &GenerateResult{ResearchID: researchID, Message: backgroundMessage}, nil
	}

	bundle, err := s.run(ctx, task, progress)
	if err != nil {
		return &GenerateResult{ResearchID: researchID}, err
	}
	return &GenerateResult{ResearchID: researchID, Bundle: bundle}, nil
}

type job struct {
	researchID string
	req        ReportRequest
}

// GenerateParallel runs several foreground reports at once and waits for all
// of them. Failures are joined into the returned error; the bundle slot of a
// failed run is nil.
func (s *Service) GenerateParallel(ctx context.Context, reqs []ReportRequest) ([]*store.Bundle, error) {
	jobs := make([]job, len(reqs))
	for i, req := range reqs {
		jobs[i] = job{researchID: ResearchID("task", s.stamp(), req.Task), req: req}
	}
	return s.runParallel(ctx, jobs)
}

func (s *Service) runParallel(ctx context.Context, jobs []job) ([]*store.Bundle, error) {
	bundles := make([]*store.Bundle, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			task := s.buildTask(j.researchID, j.req)
			if err := task.Validate(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", j.researchID, err)
				return nil
			}
			if err := s.Store.Create(ctx, j.researchID); err != nil {
				errs[i] = fmt.Errorf("%s: failed to register report: %w", j.researchID, err)
				return nil
			}

			bundle, err := s.run(ctx, task, nil)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", j.researchID, err)
				return nil
			}
			bundles[i] = bundle
			return nil
		})
	}
	_ = g.Wait()

	return bundles, errors.Join(errs...)
}

// run executes the pipeline for a registered research id, exports the
// result and records the outcome. Progress goes to the live sink when one is
// given and to the run log otherwise.
func (s *Service) run(ctx context.Context, task pipeline.Task, progress stream.Sink) (*store.Bundle, error) {
	id := task.ResearchID
	logger := slog.New(NewLogHandler(s.Store, id, s.Logger.Handler()))
	sink := progress
	if sink == nil {
		sink = stream.NewLogSink(logger, "REPORT")
	}

	if err := s.Store.Start(ctx, id); err != nil {
		logger.Warn("Failed to mark report running", "error", err)
	}

	state, err := s.Runner.Run(ctx, task, sink)
	if err != nil {
		s.fail(ctx, logger, id, err)
		return nil, err
	}

	paths, err := s.Exporter.Export(ctx, id, state.FinalReport)
	if err != nil {
		err = fmt.Errorf("export failed: %w", err)
		s.fail(ctx, logger, id, err)
		return nil, err
	}

	bundle := store.Bundle{
		ResearchID:  id,
		Report:      state.FinalReport,
		SourceURLs:  state.SourceURLs,
		VisitedURLs: state.VisitedURLs,
		Costs:       state.Costs,
		Images:      state.Images,
		ExportPaths: paths,
		Sections:    state.Sections,
	}
	if err := s.Store.Complete(context.WithoutCancel(ctx), id, bundle); err != nil {
		logger.Error("Failed to save report", "error", err)
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	logger.Info("Report completed", "exports", len(paths))
	return &bundle, nil
}

func (s *Service) fail(ctx context.Context, logger *slog.Logger, researchID string, err error) {
	logger.Error("Report failed", "error", err.Error())
	if serr := s.Store.Fail(context.WithoutCancel(ctx), researchID, err.Error()); serr != nil {
		logger.Error("Failed to record report failure", "error", serr)
	}
}

// Retrieve returns the record of a research id, or store.ErrNotFound.
func (s *Service) Retrieve(ctx context.Context, researchID string) (*store.Record, error) {
	return s.Store.Get(ctx, researchID)
}

func (s *Service) Logs(ctx context.Context, researchID string) ([]store.LogEntry, error) {
	if _, err := s.Store.Get(ctx, researchID); err != nil {
		return nil, err
	}
	return s.Store.Logs(ctx, researchID)
}

// GenerateSummary researches a book twice, in Chinese and in English, and
// returns both reports with the URLs of their PDF exports.
func (s *Service) GenerateSummary(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	name := []rune(req.Name)
	if len(name) > 20 {
		name = name[:20]
	}

	chinese := job{
		researchID: ResearchID("summary_cn", s.stamp(), string(name)),
		req: ReportRequest{
			Task:         chineseSummaryTask(req),
			ReportType:   "basic_report",
			ReportSource: "web",
			Tone:         "Objective",
			Language:     "chinese",
		},
	}
	english := job{
		researchID: ResearchID("summary_en", s.stamp(), string(name)),
		req: ReportRequest{
			Task:         englishSummaryTask(req),
			ReportType:   "basic_report",
			ReportSource: "web",
			Tone:         "Objective",
			Language:     "english",
		},
	}

	bundles, err := s.runParallel(ctx, []job{chinese, english})
	if err != nil {
		return nil, err
	}

	return &SummaryResult{
		SummaryChinese:    bundles[0].Report,
		ResearchIDChinese: chinese.researchID,
		PDFURLChinese:     s.BaseURL + "/outputs/" + chinese.researchID + ".pdf",
		SummaryEnglish:    bundles[1].Report,
		ResearchIDEnglish: english.researchID,
		PDFURLEnglish:     s.BaseURL + "/outputs/" + english.researchID + ".pdf",
	}, nil
}

// Wait blocks until detached runs finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func chineseSummaryTask(req SummaryRequest) string {
	return fmt.Sprintf(`请用中文帮我开展一次深度研究，帮助我快速、全面、深入地理解以下这本书：

书名：%s
作者：%s
出版时间：%s

请**仅使用英文资料**进行搜索和信息采集，但全部用**中文撰写报告**。

请围绕以下维度进行详细分析（不限于此）：
- 引言
- 内容结构
- 核心观点
- 目标读者/适用人群
- 现实意义或社会影响
- 与其他类似书籍的比较与差异
- **逐章深度解读（每一章分别详细介绍其核心内容、关键情节和观点，如有章节标题也请注明）**
- 结论
报告应尽量详尽，篇幅尽可能长一些，务求深刻与全面，不需总结简略，请详细解读。

请注意：**正文中不要插入任何超链接或网页链接**，如需引用资料，请统一列在报告末尾的“参考资料”部分。`,
		req.Name, req.Author, req.PublicationDate)
}

func englishSummaryTask(req SummaryRequest) string {
	return fmt.Sprintf(`Please conduct an in-depth research to help me fully understand the following book:

Title: %s
Author: %s
Publication Date: %s

Use only English sources for research, and write the entire report in **English**.

Please cover the following aspects in detail (but not limited to these):
- Introduction
- Structure of the content
- Core ideas and arguments
- Target audience
- Real-world significance or societal impact
- Comparisons with similar books
- **Chapter-by-chapter deep dive (introduce the main content, key plots, and ideas of each chapter, mentioning chapter titles if available)**
- Conclusion
The report should be as detailed as possible, with no word limit. Avoid brief summaries and aim for depth and comprehensiveness.

**Do not insert any hyperlinks or URLs in the body**. If citing sources, list them at the end under 'References'.`,
		req.Name, req.Author, req.PublicationDate)
}
